package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/alexjbarnes/solara-sync/internal/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.solara-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database
	// lock. A second process (a running daemon) holds it.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket   = []byte("app")
	queueBucket = []byte("photo_queue")

	catalogKey   = []byte("catalog")
	catalogAtKey = []byte("catalog_fetched_at")
)

// State wraps a bbolt database for all persistent application state:
// the photo queue and the cached classification catalog.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Buckets are created on open.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db (is another solara-sync running?): %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(queueBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *State) Path() string {
	return s.db.Path()
}

// Catalog returns the cached catalog payload and when it was fetched.
// Both are zero when nothing has been cached yet.
func (s *State) Catalog() ([]byte, time.Time, error) {
	var (
		data      []byte
		fetchedAt time.Time
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		v := b.Get(catalogKey)
		if v == nil {
			return nil
		}

		// bbolt values are only valid for the life of the transaction.
		data = append([]byte(nil), v...)

		if ts := b.Get(catalogAtKey); ts != nil {
			return fetchedAt.UnmarshalText(ts)
		}

		return nil
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: reading catalog: %w", apperrors.ErrStorage, err)
	}

	return data, fetchedAt, nil
}

// SaveCatalog caches a catalog payload along with its fetch time.
func (s *State) SaveCatalog(data []byte, fetchedAt time.Time) error {
	ts, err := fetchedAt.UTC().MarshalText()
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)
		if err := b.Put(catalogKey, data); err != nil {
			return err
		}

		return b.Put(catalogAtKey, ts)
	})
	if err != nil {
		return fmt.Errorf("%w: saving catalog: %w", apperrors.ErrStorage, err)
	}

	return nil
}

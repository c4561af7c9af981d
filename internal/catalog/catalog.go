// Package catalog loads the classification options (ciclos, sectores,
// rutas, tecnicos) and keeps the last good copy for offline starts.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alexjbarnes/solara-sync/internal/sheets"
)

// Fetcher retrieves fresh options. *sheets.Client satisfies it.
type Fetcher interface {
	FetchAppData(ctx context.Context) (*sheets.AppData, error)
}

// Cache persists the raw options. *state.State satisfies it.
type Cache interface {
	Catalog() ([]byte, time.Time, error)
	SaveCatalog(data []byte, fetchedAt time.Time) error
}

// Catalog is a loaded set of options.
type Catalog struct {
	sheets.AppData

	FetchedAt time.Time

	// Stale is true when the fetch failed and the cached copy is used.
	Stale bool
}

// SectorsFor returns the sectors of a ciclo.
func (c *Catalog) SectorsFor(ciclo string) []string {
	return c.SectoresPorCiclo[ciclo]
}

// RoutesFor returns the routes of a sector.
func (c *Catalog) RoutesFor(sector string) []string {
	return c.RutasPorSector[sector]
}

// HasTecnico reports whether name is a known technician. Unknown names
// are still accepted by submissions; this only tells new from known.
func (c *Catalog) HasTecnico(name string) bool {
	return slices.Contains(c.Tecnicos, name)
}

// Service loads catalogs.
type Service struct {
	fetcher Fetcher
	cache   Cache
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a Service. cache may be nil.
func NewService(fetcher Fetcher, cache Cache, logger *slog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// Load fetches the options and caches them. When the fetch fails and a
// cached copy exists, the cached copy is returned with Stale set.
func (s *Service) Load(ctx context.Context) (*Catalog, error) {
	data, fetchErr := s.fetcher.FetchAppData(ctx)
	if fetchErr == nil {
		fetchedAt := s.now()
		s.save(data, fetchedAt)

		return &Catalog{AppData: *data, FetchedAt: fetchedAt}, nil
	}

	s.logger.Warn("fetching catalog failed", slog.String("error", fetchErr.Error()))

	cached, err := s.Cached()
	if err != nil {
		return nil, fmt.Errorf("%w (cache: %w)", fetchErr, err)
	}

	if cached == nil {
		return nil, fetchErr
	}

	cached.Stale = true

	return cached, nil
}

// Cached returns the stored copy, or nil when nothing was cached yet.
func (s *Service) Cached() (*Catalog, error) {
	if s.cache == nil {
		return nil, nil
	}

	raw, fetchedAt, err := s.cache.Catalog()
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, nil
	}

	var data sheets.AppData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding cached catalog: %w", err)
	}

	return &Catalog{AppData: data, FetchedAt: fetchedAt}, nil
}

func (s *Service) save(data *sheets.AppData, fetchedAt time.Time) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("encoding catalog", slog.String("error", err.Error()))
		return
	}

	if err := s.cache.SaveCatalog(raw, fetchedAt); err != nil {
		s.logger.Warn("caching catalog", slog.String("error", err.Error()))
	}
}

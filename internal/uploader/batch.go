package uploader

import (
	"fmt"
	"os"
	"strings"

	apperrors "github.com/alexjbarnes/solara-sync/internal/errors"
	"golang.org/x/text/unicode/norm"
)

// MaxFilesPerBatch is the hard cap on files in one submission. A larger
// batch is rejected whole.
const MaxFilesPerBatch = 100

// Batch is one submission: classification metadata shared by every file.
type Batch struct {
	Ciclo   string
	Sector  string
	Ruta    string
	Tecnico string
	Files   []File
}

// File is one photo in a batch. Data, when set, is used as-is; otherwise
// Path is read when the file's turn comes, so only one file's content is
// held in memory at a time.
type File struct {
	Name string
	Path string
	Data []byte
}

func (f File) read() ([]byte, error) {
	if f.Data != nil {
		return f.Data, nil
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}

	return data, nil
}

// ValidationError rejects a whole batch before any file is touched.
type ValidationError struct {
	// Err is one of ErrMissingField, ErrNoFiles or ErrTooManyFiles.
	Err   error
	Field string
	Count int
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %s", apperrors.ErrValidation, e.Field, e.Err)
	case e.Count > 0:
		return fmt.Sprintf("%s: %s (%d, max %d)", apperrors.ErrValidation, e.Err, e.Count, MaxFilesPerBatch)
	default:
		return fmt.Sprintf("%s: %s", apperrors.ErrValidation, e.Err)
	}
}

// Unwrap exposes both ErrValidation and the specific cause.
func (e *ValidationError) Unwrap() []error {
	return []error{apperrors.ErrValidation, e.Err}
}

// userMessage is the status text shown for the rejection.
func (e *ValidationError) userMessage() string {
	if e.Count > MaxFilesPerBatch {
		return fmt.Sprintf("At most %d photos per submission. Selected %d.", MaxFilesPerBatch, e.Count)
	}

	return "Complete all required fields and select at least one photo."
}

// normalize trims and NFC-normalizes the metadata so the same visible
// text always produces the same bytes on the wire.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Normalized returns a copy of b with cleaned metadata. The Files slice
// is copied too, so later changes by the caller do not reach records.
func (b Batch) Normalized() Batch {
	files := make([]File, len(b.Files))
	copy(files, b.Files)

	return Batch{
		Ciclo:   normalize(b.Ciclo),
		Sector:  normalize(b.Sector),
		Ruta:    normalize(b.Ruta),
		Tecnico: normalize(b.Tecnico),
		Files:   files,
	}
}

// Validate checks a normalized batch. It performs no I/O.
func (b Batch) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"ciclo", b.Ciclo},
		{"sector", b.Sector},
		{"ruta", b.Ruta},
		{"tecnico", b.Tecnico},
	}

	for _, f := range fields {
		if f.value == "" {
			return &ValidationError{Err: apperrors.ErrMissingField, Field: f.name}
		}
	}

	if len(b.Files) == 0 {
		return &ValidationError{Err: apperrors.ErrNoFiles}
	}

	if len(b.Files) > MaxFilesPerBatch {
		return &ValidationError{Err: apperrors.ErrTooManyFiles, Count: len(b.Files)}
	}

	for i, f := range b.Files {
		if strings.TrimSpace(f.Name) == "" {
			return &ValidationError{Err: apperrors.ErrMissingField, Field: fmt.Sprintf("files[%d].name", i)}
		}
	}

	return nil
}

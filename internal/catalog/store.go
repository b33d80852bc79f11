package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Store reads and writes the snapshot file.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore returns a store for the snapshot at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger.Named("catalog")}
}

// Path returns the snapshot location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. It returns ErrNoSnapshot when the file does not
// exist and ErrCorruptSnapshot when it fails validation or decoding.
func (s *Store) Load() (*Catalog, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &notFoundError{err: err}
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	result, err := sch.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, s.path, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrCorruptSnapshot, s.path, strings.Join(msgs, "; "))
	}

	cat := New()
	if err := json.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, s.path, err)
	}
	s.logger.Debug("snapshot loaded",
		zap.String("path", s.path),
		zap.Int("categories", cat.Len()),
		zap.Int("items", cat.ItemCount()),
	)
	return cat, nil
}

// Save writes the whole catalog atomically.
func (s *Store) Save(cat *Catalog) error {
	data, err := Encode(cat)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := local.WriteAtomic(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.Debug("snapshot saved", zap.String("path", s.path), zap.Int("bytes", len(data)))
	return nil
}

// SetAside renames the snapshot to <path>.corrupt-<suffix> so a fresh catalog
// can be saved without losing the old file. It returns the new path.
func (s *Store) SetAside(suffix string) (string, error) {
	target := s.path + ".corrupt-" + suffix
	if err := os.Rename(s.path, target); err != nil {
		return "", fmt.Errorf("set aside snapshot: %w", err)
	}
	s.logger.Warn("snapshot set aside", zap.String("path", s.path), zap.String("moved_to", target))
	return target, nil
}

// Encode renders the catalog as indented JSON.
func Encode(cat *Catalog) ([]byte, error) {
	raw, err := json.Marshal(cat)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("indent snapshot: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

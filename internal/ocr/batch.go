package ocr

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// BatchSource names an imported recognition file.
type BatchSource struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// Batch maps a local filename to its imported text.
type Batch map[string]string

type batchLine struct {
	FileName string `json:"fileName"`
	Data     []struct {
		Text string `json:"text"`
	} `json:"data"`
}

// ReadBatch parses newline-delimited records. Lines that are not JSON, lack a
// file name, or carry no text in their first data entry are skipped. Later
// lines win over earlier ones for the same file name.
func ReadBatch(r io.Reader) (Batch, error) {
	batch := make(Batch)
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var rec batchLine
			if json.Unmarshal(line, &rec) == nil && rec.FileName != "" && len(rec.Data) > 0 && rec.Data[0].Text != "" {
				batch[rec.FileName] = rec.Data[0].Text
			}
		}
		if errors.Is(err, io.EOF) {
			return batch, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read batch: %w", err)
		}
	}
}

// Batches holds every imported source in priority order.
type Batches struct {
	names   []string
	batches map[string]Batch
}

// LoadBatches reads each source, resolving relative paths against dir.
// A missing file is logged and yields an empty batch so the source still
// takes part in priority ordering.
func LoadBatches(dir string, sources []BatchSource, logger *zap.Logger) (*Batches, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Batches{batches: make(map[string]Batch, len(sources))}
	for _, src := range sources {
		if src.Name == "" || src.Name == SourceLocal {
			return nil, fmt.Errorf("invalid batch source name %q", src.Name)
		}
		if _, dup := b.batches[src.Name]; dup {
			return nil, fmt.Errorf("duplicate batch source %q", src.Name)
		}
		path := src.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		batch, err := loadBatchFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("batch file not found", zap.String("source", src.Name), zap.String("path", path))
			batch = Batch{}
		case err != nil:
			return nil, fmt.Errorf("load batch %s: %w", src.Name, err)
		default:
			logger.Info("batch loaded", zap.String("source", src.Name), zap.Int("records", len(batch)))
		}
		b.names = append(b.names, src.Name)
		b.batches[src.Name] = batch
	}
	return b, nil
}

func loadBatchFile(path string) (Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadBatch(f)
}

// NewBatches builds Batches from already parsed data, in the given order.
func NewBatches(names []string, batches map[string]Batch) *Batches {
	b := &Batches{names: append([]string(nil), names...), batches: make(map[string]Batch, len(names))}
	for _, name := range names {
		b.batches[name] = batches[name]
	}
	return b
}

// Names returns the source names in priority order.
func (b *Batches) Names() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.names...)
}

// Has reports whether name is a configured source.
func (b *Batches) Has(name string) bool {
	if b == nil {
		return false
	}
	_, ok := b.batches[name]
	return ok
}

// Lookup returns the text source holds for filename.
func (b *Batches) Lookup(source, filename string) (string, bool) {
	if b == nil {
		return "", false
	}
	text, ok := b.batches[source][filename]
	return text, ok
}

// Priority returns the local source followed by every batch source.
func (b *Batches) Priority() []string {
	return append([]string{SourceLocal}, b.Names()...)
}

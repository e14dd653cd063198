package ocr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// resultsFile streams records into a JSON array. The array is closed by
// close, so a file is valid JSON once the stage shuts down.
type resultsFile struct {
	f *os.File
	n int
}

func createResults(path string) (*resultsFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating ocr results: %w", err)
	}
	if _, err := f.WriteString("["); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing ocr results: %w", err)
	}
	return &resultsFile{f: f}, nil
}

func (r *resultsFile) write(rec Record) error {
	data, err := json.MarshalIndent(rec, "  ", "  ")
	if err != nil {
		return fmt.Errorf("encoding ocr result: %w", err)
	}
	sep := ",\n  "
	if r.n == 0 {
		sep = "\n  "
	}
	if _, err := r.f.Write(append([]byte(sep), data...)); err != nil {
		return fmt.Errorf("writing ocr results: %w", err)
	}
	r.n++
	return nil
}

func (r *resultsFile) close() error {
	tail := "\n]\n"
	if r.n == 0 {
		tail = "]\n"
	}
	_, werr := r.f.WriteString(tail)
	cerr := r.f.Close()
	if werr != nil {
		return fmt.Errorf("writing ocr results: %w", werr)
	}
	return cerr
}

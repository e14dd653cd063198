// Package ocr implements the optical character recognition stage. Each
// frame is handed to an Engine; recognised texts are optionally forwarded
// downstream and streamed into a JSON results file.
package ocr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hiagors92/open-filter-challange/runtime"
)

// ID is the implementation id the OCR filter registers under.
const ID = "FilterOpticalCharacterRecognition"

// Alias is the short implementation id.
const Alias = "ocr"

// Option defaults.
const (
	DefaultEngine     = "easyocr"
	DefaultOutputPath = "output/ocr_results.json"
	defaultMinLength  = 3

	// recentRecords bounds the records kept in memory for Records.
	recentRecords = 64
)

// TextsKey is the data field holding forwarded texts.
const TextsKey = "ocr_texts"

// Record is one entry of the results file.
type Record struct {
	Stage     string    `json:"stage"`
	Frame     uint64    `json:"frame"`
	Source    string    `json:"source,omitempty"`
	Topic     string    `json:"topic"`
	Engine    string    `json:"engine"`
	Languages []string  `json:"languages"`
	Texts     []Text    `json:"texts"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter is the OCR implementation.
type Filter struct {
	name       string
	engine     Engine
	forward    bool
	outputPath string
	languages  []string
	// emptyRecords keeps frames without text in the results file.
	emptyRecords bool

	mu      sync.Mutex
	results *resultsFile
	recent  []Record
	total   int
}

// New returns an uninitialised OCR filter.
func New() runtime.Filter { return &Filter{} }

// NewWithEngine returns an OCR filter using engine regardless of the
// ocr_engine option.
func NewWithEngine(engine Engine) *Filter { return &Filter{engine: engine} }

// Init validates ocr_engine and reads the remaining options. ocr_engine is
// the only option whose value is checked.
func (f *Filter) Init(_ context.Context, opts runtime.Options) error {
	f.name = opts.Name

	minLength, err := opts.GetInt("min_text_length", defaultMinLength)
	if err != nil {
		return err
	}
	if f.engine == nil {
		if f.engine, err = NewEngine(opts.GetString("ocr_engine", DefaultEngine), minLength); err != nil {
			return err
		}
	}
	if f.forward, err = opts.GetBool("forward_ocr_texts", false); err != nil {
		return err
	}
	if f.emptyRecords, err = opts.GetBool("keep_empty", false); err != nil {
		return err
	}
	f.outputPath = opts.GetString("output_json_path", DefaultOutputPath)
	f.languages = opts.GetStringSlice("languages")
	if len(f.languages) == 0 {
		f.languages = []string{"en"}
	}
	return nil
}

// Process recognises text in m and forwards the frame.
func (f *Filter) Process(ctx context.Context, m *runtime.Message) ([]*runtime.Message, error) {
	texts, err := f.engine.Recognize(ctx, m.Payload, f.languages)
	if err != nil {
		return nil, fmt.Errorf("%s: frame %d: %w", f.engine.Name(), m.Seq, err)
	}

	if len(texts) > 0 || f.emptyRecords {
		source, _ := m.Data["source"].(string)
		if err := f.record(Record{
			Stage:     f.name,
			Frame:     m.Seq,
			Source:    source,
			Topic:     m.Topic,
			Engine:    f.engine.Name(),
			Languages: f.languages,
			Texts:     texts,
			Timestamp: m.Timestamp,
		}); err != nil {
			return nil, err
		}
	}

	out := m.Derive()
	out.Seq = m.Seq
	if f.forward {
		values := make([]string, len(texts))
		for i, t := range texts {
			values[i] = t.Text
		}
		out.Set(TextsKey, values)
	}
	return []*runtime.Message{out}, nil
}

// record appends rec to the results file, opening it on first use, and
// keeps it in the bounded recent list.
func (f *Filter) record(rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.outputPath != "" {
		if f.results == nil {
			rf, err := createResults(f.outputPath)
			if err != nil {
				return err
			}
			f.results = rf
		}
		if err := f.results.write(rec); err != nil {
			return err
		}
	}

	f.total++
	if len(f.recent) == recentRecords {
		copy(f.recent, f.recent[1:])
		f.recent = f.recent[:recentRecords-1]
	}
	f.recent = append(f.recent, rec)
	return nil
}

// Shutdown closes the results file. A run that recognised nothing still
// leaves an empty array behind; an empty path disables the file.
func (f *Filter) Shutdown(context.Context) error {
	if f.outputPath == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		rf, err := createResults(f.outputPath)
		if err != nil {
			return err
		}
		f.results = rf
	}
	err := f.results.close()
	f.results = nil
	return err
}

// Records returns the most recent records, oldest first.
func (f *Filter) Records() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.recent...)
}

// Recorded returns how many records were produced in total.
func (f *Filter) Recorded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

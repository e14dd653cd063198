// Package benchmark implements a pass-through stage that records process
// resource usage and throughput to a CSV file while the pipeline runs.
package benchmark

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

// ID is the implementation id Benchmark registers under.
const ID = "Benchmark"

// Option defaults.
const (
	DefaultOutputPath = "benchmark_results.csv"
	DefaultInterval   = time.Second
)

// Header is the first row of the results file.
var Header = []string{"timestamp", "cpu_percent", "memory_percent", "messages", "fps"}

// Filter is the Benchmark implementation.
type Filter struct {
	sampler  Sampler
	interval time.Duration

	messages atomic.Uint64

	mu        sync.Mutex
	file      *os.File
	w         *csv.Writer
	last      Usage
	lastAt    time.Time
	lastCount uint64
	rows      int
	sampleErr error

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns an uninitialised Benchmark filter reading usage from /proc.
func New() runtime.Filter { return &Filter{} }

// NewWithSampler returns a Benchmark filter reading usage from s.
func NewWithSampler(s Sampler) *Filter { return &Filter{sampler: s} }

// Init creates the results file, writes the header and starts sampling
// every interval.
func (f *Filter) Init(_ context.Context, opts runtime.Options) error {
	var err error
	if f.interval, err = opts.GetDuration("interval", DefaultInterval); err != nil {
		return err
	}
	if f.interval <= 0 {
		return types.ConfigError("interval must be > 0, got %s", f.interval)
	}
	if f.sampler == nil {
		if f.sampler, err = NewProcSampler(); err != nil {
			return err
		}
	}

	path := opts.GetString("output_path", DefaultOutputPath)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating benchmark directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating benchmark file: %w", err)
	}
	f.file = file
	f.w = csv.NewWriter(file)
	if err := f.w.Write(Header); err != nil {
		file.Close()
		return fmt.Errorf("writing benchmark header: %w", err)
	}

	f.last, _ = f.sampler.Sample()
	f.lastAt = time.Now()
	f.stop = make(chan struct{})
	f.wg.Add(1)
	go f.loop()
	return nil
}

// Process counts m and passes it through.
func (f *Filter) Process(_ context.Context, m *runtime.Message) ([]*runtime.Message, error) {
	f.messages.Add(1)
	out := m.Derive()
	out.Seq = m.Seq
	return []*runtime.Message{out}, nil
}

// Shutdown stops sampling, writes a final row and closes the file.
func (f *Filter) Shutdown(context.Context) error {
	if f.stop == nil {
		return nil
	}
	close(f.stop)
	f.wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeRowLocked(time.Now())
	f.w.Flush()
	err := f.w.Error()
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing benchmark results: %w", err)
	}
	return nil
}

// SampleErr returns the most recent sampling failure, or nil once a
// sample succeeds again.
func (f *Filter) SampleErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sampleErr
}

// Rows returns how many data rows were written.
func (f *Filter) Rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows
}

func (f *Filter) loop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case now := <-ticker.C:
			f.mu.Lock()
			f.writeRowLocked(now)
			f.w.Flush()
			f.mu.Unlock()
		}
	}
}

// writeRowLocked samples usage and appends one row. Sampling failures
// produce zero usage columns so throughput is still recorded.
func (f *Filter) writeRowLocked(now time.Time) {
	usage, err := f.sampler.Sample()
	f.sampleErr = err
	if err != nil {
		usage = Usage{}
	}

	elapsed := now.Sub(f.lastAt).Seconds()
	count := f.messages.Load()

	var cpu, fps float64
	if elapsed > 0 {
		if err == nil && usage.CPUSeconds >= f.last.CPUSeconds {
			cpu = (usage.CPUSeconds - f.last.CPUSeconds) / elapsed * 100
		}
		fps = float64(count-f.lastCount) / elapsed
	}
	var mem float64
	if usage.TotalMemoryBytes > 0 {
		mem = float64(usage.RSSBytes) / float64(usage.TotalMemoryBytes) * 100
	}

	_ = f.w.Write([]string{
		now.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(cpu, 'f', 2, 64),
		strconv.FormatFloat(mem, 'f', 2, 64),
		strconv.FormatUint(count, 10),
		strconv.FormatFloat(fps, 'f', 2, 64),
	})
	f.rows++
	if err == nil {
		f.last = usage
	}
	f.lastAt = now
	f.lastCount = count
}

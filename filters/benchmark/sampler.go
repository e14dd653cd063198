package benchmark

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Usage is one resource reading of the current process.
type Usage struct {
	// CPUSeconds is the total user and system CPU time consumed so far.
	CPUSeconds float64
	// RSSBytes is the resident set size.
	RSSBytes uint64
	// TotalMemoryBytes is the physical memory of the host.
	TotalMemoryBytes uint64
}

// Sampler reads resource usage.
type Sampler interface {
	Sample() (Usage, error)
}

// procSampler reads /proc through procfs.
type procSampler struct {
	fs procfs.FS
}

// NewProcSampler returns a Sampler backed by /proc. It fails on systems
// without procfs.
func NewProcSampler() (Sampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	return &procSampler{fs: fs}, nil
}

func (s *procSampler) Sample() (Usage, error) {
	proc, err := s.fs.Self()
	if err != nil {
		return Usage{}, fmt.Errorf("reading own process: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return Usage{}, fmt.Errorf("reading process stat: %w", err)
	}
	mem, err := s.fs.Meminfo()
	if err != nil {
		return Usage{}, fmt.Errorf("reading meminfo: %w", err)
	}
	u := Usage{
		CPUSeconds: stat.CPUTime(),
		RSSBytes:   uint64(stat.ResidentMemory()),
	}
	if mem.MemTotal != nil {
		u.TotalMemoryBytes = *mem.MemTotal * 1024
	}
	return u, nil
}

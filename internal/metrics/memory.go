package metrics

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// MemoryReader obtains the current memory usage of the process in bytes.
// Implementations must honour ctx cancellation.
type MemoryReader interface {
	ReadMemory(ctx context.Context) (uint64, error)
}

// MemoryReaderFunc adapts a function to MemoryReader.
type MemoryReaderFunc func(ctx context.Context) (uint64, error)

func (f MemoryReaderFunc) ReadMemory(ctx context.Context) (uint64, error) { return f(ctx) }

// ProcessMemory reads the resident set size of the current process.
type ProcessMemory struct {
	proc *process.Process
}

// NewProcessMemory returns a reader bound to the running process.
func NewProcessMemory() (*ProcessMemory, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	return &ProcessMemory{proc: proc}, nil
}

func (p *ProcessMemory) ReadMemory(ctx context.Context) (uint64, error) {
	info, err := p.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return info.RSS, nil
}

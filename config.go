// Package taskcore holds the boot-time configuration for the task
// management core: kernel stack sizing, page table geometry, and the
// scheduling quantum used by the CLI harness in cmd/taskcoreboot.
package taskcore

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// PageTableEntries is the fixed number of entries in a page directory or
// page table, per the x86 two-level paging scheme this module simulates.
const PageTableEntries = 1024

// PageSize is the size in bytes of a single physical frame.
const PageSize = 4096

// Config holds the tunables a real kernel would leave as compile-time
// constants (KERNEL_STACK_SIZE and friends) so a deployment can adjust
// them without recompiling, the way runsc's own TOML config lets a
// sandbox operator tune sentry behavior.
type Config struct {
	// KernelStackSize is the fixed size, in bytes, of a task's kernel
	// stack region. Must be a multiple of PageSize.
	KernelStackSize int `toml:"kernel_stack_size"`

	// FramePoolSize is the number of physical frames the mock frame
	// allocator manages.
	FramePoolSize int `toml:"frame_pool_size"`

	// TimerQuantum is the number of timer ticks between preemptions in
	// the CLI boot harness. It has no effect on the library's semantics.
	TimerQuantum int `toml:"timer_quantum"`
}

// DefaultConfig returns a conservative baseline configuration: an 8 KiB
// (two page) kernel stack, a modest frame pool, and a one-tick quantum.
func DefaultConfig() Config {
	return Config{
		KernelStackSize: 2 * PageSize,
		FramePoolSize:   4096,
		TimerQuantum:    1,
	}
}

// LoadConfig parses a TOML configuration file, applying DefaultConfig for
// any field the file does not set.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("taskcore: loading config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration satisfies the invariants the
// task-management core assumes hold for KERNEL_STACK_SIZE (page-aligned)
// and the frame pool (non-empty).
func (c Config) Validate() error {
	if c.KernelStackSize <= 0 || c.KernelStackSize%PageSize != 0 {
		return fmt.Errorf("taskcore: kernel_stack_size %d is not a positive multiple of %d", c.KernelStackSize, PageSize)
	}
	if c.FramePoolSize <= 0 {
		return fmt.Errorf("taskcore: frame_pool_size must be positive, got %d", c.FramePoolSize)
	}
	if c.TimerQuantum <= 0 {
		return fmt.Errorf("taskcore: timer_quantum must be positive, got %d", c.TimerQuantum)
	}
	return nil
}

package heap

import (
	"context"
	"os"
)

// global is created at load time and lives until the process exits.
var global = New()

// exit is replaced in tests.
var exit = os.Exit

// Global returns the process-wide heap.
func Global() *Heap {
	return global
}

// Setup initializes the process-wide heap. It must complete before anything
// allocates from Global.
func Setup(ctx context.Context, cfg Config) error {
	return global.Init(ctx, cfg)
}

// MustSetup is Setup for process startup: on failure it logs the error and
// exits with ExitCode(err).
func MustSetup(ctx context.Context, cfg Config) {
	mustInit(ctx, global, cfg)
}

func mustInit(ctx context.Context, h *Heap, cfg Config) {
	if err := h.Init(ctx, cfg); err != nil {
		internalLogger.Errorf("shared heap setup failed: %v", err)
		exit(ExitCode(err))
	}
}

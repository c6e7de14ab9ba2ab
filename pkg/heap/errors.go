package heap

import (
	"errors"

	"github.com/srediag/shmheap/internal/buddy"
	"github.com/srediag/shmheap/pkg/shm"
)

var (
	ErrNotInitialized     = errors.New("heap: not initialized")
	ErrAlreadyInitialized = errors.New("heap: already initialized")
	ErrInvalidConfig      = errors.New("heap: invalid config")
	ErrAddressMismatch    = errors.New("heap: segment mapped at the wrong address")
	ErrInvalidRegion      = errors.New("heap: invalid region")

	// ErrCorrupted is the panic value for double frees, foreign pointers
	// and failed consistency checks.
	ErrCorrupted = buddy.ErrCorrupted
)

// Process exit statuses for fatal setup failures.
const (
	ExitOpenFailed = 3
	ExitMapFailed  = 4
	ExitInitFailed = 5
)

// ExitCode maps a setup error to the status the process should exit with.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, shm.ErrOpen), errors.Is(err, shm.ErrInvalidName):
		return ExitOpenFailed
	case errors.Is(err, shm.ErrMap), errors.Is(err, ErrAddressMismatch), errors.Is(err, shm.ErrUnsupported):
		return ExitMapFailed
	default:
		return ExitInitFailed
	}
}

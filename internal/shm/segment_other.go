//go:build !linux

package shm

// CreateSegment is only implemented on Linux.
func CreateSegment(name string, size int) error {
	return ErrUnsupported
}

// RemoveSegment is only implemented on Linux.
func RemoveSegment(name string) error {
	return ErrUnsupported
}

// StatSegment is only implemented on Linux.
func StatSegment(name string) (int64, error) {
	return 0, ErrUnsupported
}

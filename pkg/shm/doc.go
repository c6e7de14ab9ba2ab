// Package shm opens the named POSIX shared memory objects that back the
// shared heap and maps them at the fixed address every cooperating process
// agrees on.
//
// Example usage:
//
//	if err := shm.Create("bluesim1", 64<<20); err != nil && !errors.Is(err, shm.ErrExists) {
//		// ...
//	}
//	region, err := shm.Open(ctx, shm.OpenOptions{
//		Name: "bluesim1",
//		Size: 64 << 20,
//		Addr: 0x7f7e8e600000,
//	})
//	// region.Addr() == 0x7f7e8e600000
//
// Platform-specific helpers are in internal/shm.
package shm

//go:build linux

package celrix

import "golang.org/x/sys/unix"

// pinToCPU binds the calling thread to the given logical CPU.
// The caller must have locked the goroutine to its OS thread first.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

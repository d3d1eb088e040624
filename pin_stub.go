//go:build !linux

package celrix

import "errors"

// pinToCPU is unavailable off Linux. Lane separation still holds; only the
// jitter guarantee of core pinning is lost.
func pinToCPU(int) error {
	return errors.New("cpu affinity not supported on this platform")
}

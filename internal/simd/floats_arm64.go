//go:build arm64

package simd

import (
	"github.com/viterin/vek/vek32"
	"golang.org/x/sys/cpu"
)

func init() {
	if forceGeneric() {
		return
	}
	if cpu.ARM64.HasASIMD {
		dotImpl = vek32.Dot
		activeISA = NEON
	}
}

//go:build amd64

package simd

import (
	"github.com/viterin/vek/vek32"
	"golang.org/x/sys/cpu"
)

func init() {
	if forceGeneric() {
		return
	}
	if cpu.X86.HasAVX2 {
		dotImpl = vek32.Dot
		activeISA = AVX2
	}
}

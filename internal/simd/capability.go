package simd

import (
	"os"
	"strings"
)

// ISA represents the active dot-product kernel implementation.
type ISA uint8

const (
	// Generic is the pure Go scalar implementation.
	Generic ISA = iota
	// AVX2 is the vek-backed kernel on x86-64 with AVX2.
	AVX2
	// NEON is the vek-backed kernel on ARM64 with ASIMD.
	NEON
)

// String returns the string representation of an ISA.
func (i ISA) String() string {
	switch i {
	case Generic:
		return "generic"
	case AVX2:
		return "avx2"
	case NEON:
		return "neon"
	default:
		return "unknown"
	}
}

// Package-level state - initialized once at package init.
var activeISA ISA

// ActiveISA returns the currently active kernel ISA.
func ActiveISA() ISA {
	return activeISA
}

// forceGeneric reports whether the CELRIX_SIMD environment variable pins the
// scalar path. Any value other than "generic" is ignored; auto-detection is
// the only other mode.
func forceGeneric() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("CELRIX_SIMD")), "generic")
}

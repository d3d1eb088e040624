// Package simd provides the float32 kernels used by the vector index.
//
// Dot dispatches to an accelerated implementation (vek, AVX2 on x86-64 and
// NEON on ARM64) when the CPU supports it, and to a scalar loop otherwise.
// Set CELRIX_SIMD=generic to pin the scalar path.
package simd

// Package cpu reports the hardware capabilities the inference runtime can use.
package cpu

import (
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	syscpu "golang.org/x/sys/cpu"
)

// Separator joins the entries of the system info string.
const Separator = " | "

// Features holds the capability flags reported by the runtime.
type Features struct {
	AVX        bool
	AVX2       bool
	AVX512     bool
	AVX512VBMI bool
	AVX512VNNI bool
	FMA        bool
	NEON       bool
	ARMFMA     bool
	F16C       bool
	FP16VA     bool
	WASMSIMD   bool
	BLAS       bool
	SSE3       bool
	SSSE3      bool
	VSX        bool
}

// Flag is one named capability.
type Flag struct {
	Name  string
	Value bool
}

// Detect probes the host CPU. BLAS is always false here; it depends on what
// the runtime was linked against, see ProbeAccelerator.
func Detect() Features {
	c := &cpuid.CPU
	f := Features{
		AVX:        c.Supports(cpuid.AVX),
		AVX2:       c.Supports(cpuid.AVX2),
		AVX512:     c.Supports(cpuid.AVX512F),
		AVX512VBMI: c.Supports(cpuid.AVX512VBMI),
		AVX512VNNI: c.Supports(cpuid.AVX512VNNI),
		FMA:        c.Supports(cpuid.FMA3),
		F16C:       c.Supports(cpuid.F16C),
		SSE3:       c.Supports(cpuid.SSE3),
		SSSE3:      c.Supports(cpuid.SSSE3),
		WASMSIMD:   runtime.GOARCH == "wasm",
		VSX:        syscpu.PPC64.IsPOWER8,
	}

	if runtime.GOARCH == "arm64" {
		f.NEON = c.Supports(cpuid.ASIMD) || syscpu.ARM64.HasASIMD
		// Fused multiply-add is part of every AArch64 SIMD unit.
		f.ARMFMA = f.NEON
		f.FP16VA = c.Supports(cpuid.ASIMDHP) || syscpu.ARM64.HasASIMDHP
	}

	return f
}

// Flags returns the flags in reporting order.
func (f Features) Flags() []Flag {
	return []Flag{
		{"AVX", f.AVX},
		{"AVX2", f.AVX2},
		{"AVX512", f.AVX512},
		{"AVX512_VBMI", f.AVX512VBMI},
		{"AVX512_VNNI", f.AVX512VNNI},
		{"FMA", f.FMA},
		{"NEON", f.NEON},
		{"ARM_FMA", f.ARMFMA},
		{"F16C", f.F16C},
		{"FP16_VA", f.FP16VA},
		{"WASM_SIMD", f.WASMSIMD},
		{"BLAS", f.BLAS},
		{"SSE3", f.SSE3},
		{"SSSE3", f.SSSE3},
		{"VSX", f.VSX},
	}
}

// String renders the flags as "AVX = 1 | AVX2 = 0 | ... | ".
// Every entry, including the last, is followed by Separator.
func (f Features) String() string {
	var sb strings.Builder
	for _, flag := range f.Flags() {
		sb.WriteString(flag.Name)
		sb.WriteString(" = ")
		if flag.Value {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
		sb.WriteString(Separator)
	}
	return sb.String()
}

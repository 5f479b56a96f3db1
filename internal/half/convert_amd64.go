//go:build amd64 && !purego

package half

import "golang.org/x/sys/cpu"

// F16C shipped alongside AVX2 on every x86 line that has it
var vectorAvailable = cpu.X86.HasAVX2 && cpu.X86.HasOSXSAVE

//go:noescape
func convertF16C(dst *uint16, src *float32, n int)

// convertVector converts the longest prefix of src that is a multiple of 8 and returns its length
func convertVector(dst []uint16, src []float32) int {
	if !vectorAvailable {
		return 0
	}

	n := len(src) &^ 7
	if n == 0 {
		return 0
	}

	convertF16C(&dst[0], &src[0], n)
	return n
}

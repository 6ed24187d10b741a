//go:build amd64

package popcount

import "golang.org/x/sys/cpu"

func hasAVX2() bool   { return cpu.X86.HasAVX2 }
func hasPOPCNT() bool { return cpu.X86.HasPOPCNT }

//go:build !amd64

package popcount

func hasAVX2() bool   { return false }
func hasPOPCNT() bool { return false }

// Package diag provides cold-path diagnostic output: warnings and failure
// notices that should reach the operator without going through the
// program's normal stdout contract.
//
// It deliberately avoids a logging framework. Diagnostics here are rare —
// a handful of calls per run — so each call simply builds its line by string
// concatenation and writes it to stderr.
package diag

import "os"

// Note writes a tagged informational line to stderr.
func Note(tag, message string) {
	os.Stderr.WriteString(tag + ": " + message + "\n")
}

// Warn writes a tagged error line to stderr. A nil err prints just the tag.
func Warn(tag string, err error) {
	if err == nil {
		os.Stderr.WriteString(tag + "\n")
		return
	}
	os.Stderr.WriteString(tag + ": " + err.Error() + "\n")
}

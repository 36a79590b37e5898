package config

import (
	"fmt"
	"os"
)

// Exitf reports a fatal startup error on stderr and exits with code 1. Both
// binaries use it for configuration failures, before logging is set up.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// Package main implements the pipert command, which runs the components
// described by a configuration file.
package main

import (
	"fmt"
	"os"
	"runtime"
)

// Build information, set with -ldflags at release time
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "pipert"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

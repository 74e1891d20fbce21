// Command ttshub resolves text-to-speech voices from a model hub, builds
// synthesis engines on demand and serves them over HTTP.
//
// Usage:
//
//	ttshub [--config FILE] <command> [flags]
//
// Commands:
//
//	serve      run the HTTP server
//	synth      synthesize text into a WAV file
//	languages  list the catalog languages
//	models     list the voices of a language
//	fetch      download voice artifacts ahead of time
//	check      run the readiness checks once
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ttshub:", err)
		os.Exit(1)
	}
}

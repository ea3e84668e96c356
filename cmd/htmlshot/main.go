// htmlshot captures web pages as PNG images and reads back their watermarks.
//
// Usage:
//
//	htmlshot serve [--config htmlshot.yaml]
//	htmlshot capture --url https://example.com -o shot.png
//	htmlshot extract shot.png
//	htmlshot devices
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

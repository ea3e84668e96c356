package engine

import (
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
)

// findBrowser picks the executable the launcher starts. An explicit path
// wins; otherwise the standard install locations are searched, and when
// nothing is found and autoDownload is set a compatible Chromium is
// downloaded into ~/.cache/rod/browser (Unix) or %APPDATA%\rod\browser
// (Windows). An empty result leaves the choice to chromedp.
func findBrowser(execPath string, autoDownload bool) (string, error) {
	if execPath != "" {
		return execPath, nil
	}
	if path, ok := launcher.LookPath(); ok {
		return path, nil
	}
	if !autoDownload {
		return "", nil
	}
	path, err := launcher.NewBrowser().Get()
	if err != nil {
		return "", fmt.Errorf("engine: downloading browser: %w", err)
	}
	return path, nil
}

// Available reports whether a Chrome or Chromium binary can be found without
// downloading one.
func Available() bool {
	_, ok := launcher.LookPath()
	return ok
}

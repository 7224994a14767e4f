package intercept

import (
	"log/slog"
	"net/http"
	"sync"
)

var (
	installMu sync.Mutex
	installed *Transport
	original  http.RoundTripper
)

// Install swaps http.DefaultTransport for an observing transport so
// every client using the default transport is captured. Install is
// idempotent: while installed, further calls are no-ops.
func Install(observer NetworkObserver, options Options, logger *slog.Logger) {
	installMu.Lock()
	defer installMu.Unlock()

	if installed != nil {
		return
	}
	original = http.DefaultTransport
	installed = NewTransport(original, observer, options, logger)
	http.DefaultTransport = installed
}

// Uninstall restores the transport Install replaced. Safe to call
// when nothing is installed.
func Uninstall() {
	installMu.Lock()
	defer installMu.Unlock()

	if installed == nil {
		return
	}
	http.DefaultTransport = original
	installed = nil
	original = nil
}

// Installed reports whether the default transport is currently
// swapped.
func Installed() bool {
	installMu.Lock()
	defer installMu.Unlock()
	return installed != nil
}

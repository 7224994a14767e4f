// Package intercept hooks outbound HTTP traffic at the transport
// layer and reports it to a network observer.
package intercept

import (
	"net/http"
	"time"
)

// NetworkObserver receives the lifecycle events of observed
// exchanges. Callbacks may arrive from any goroutine, in transport
// order per exchange ID. Implementations must be fast and must not
// retain the header or body arguments past the call.
type NetworkObserver interface {
	// OnStart reports an initiated request. body holds the captured
	// request body prefix and may be nil.
	OnStart(exchangeID, method, url string, headers http.Header, body []byte, at time.Time)
	// OnData reports response data: the first call carries status and
	// headers, later calls carry body chunks as the caller reads them.
	OnData(exchangeID string, status int, headers http.Header, chunk []byte)
	// OnComplete reports that the exchange finished.
	OnComplete(exchangeID string, at time.Time)
	// OnFailed reports a transport error or cancellation.
	OnFailed(exchangeID, reason string, at time.Time)
}

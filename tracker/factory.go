package tracker

import (
	"fmt"
	"net/url"

	"github.com/anacrolix/log"
	"github.com/gorilla/websocket"
)

// NewTrackerFromURL builds a Tracker for trackerURL, picking HTTPTransport
// for http(s):// and WSTransport for ws(s):// per the component design's
// "Tracker transport" external interface. Callers building a TierList from
// an announce-list (BEP 12) don't need to special-case the scheme
// themselves.
func NewTrackerFromURL(trackerURL string, scrapable bool, httpClient HTTPClient, wsDialer *websocket.Dialer, logger log.Logger) (*Tracker, error) {
	u, err := url.Parse(trackerURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: parse %q: %w", trackerURL, err)
	}

	var transport Transport
	switch u.Scheme {
	case "http", "https":
		transport = NewHTTPTransport(httpClient)
	case "ws", "wss":
		transport = NewWSTransport(wsDialer)
	default:
		return nil, fmt.Errorf("tracker: unsupported scheme %q in %q", u.Scheme, trackerURL)
	}
	return NewTracker(trackerURL, scrapable, transport, logger), nil
}

// http.go implements the Transport interface over HTTP GET announces and
// scrapes, encoding query parameters per the component design's "Tracker
// HTTP announce query parameters" and decoding the bencoded response body
// with github.com/jackpal/bencode-go (the pack's other BitTorrent repo,
// uber/kraken, depends on it too; the metainfo *file* decode stays out of
// scope, but this wire decode is explicitly in scope for C13).
package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"

	"github.com/btengine/torrent/version"
)

// HTTPClient is the minimal collaborator this transport needs; satisfied
// by *http.Client, and by anything else shaped like it in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport implements Transport by issuing GET requests and decoding
// bencoded responses.
type HTTPTransport struct {
	Client HTTPClient
}

func NewHTTPTransport(client HTTPClient) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client}
}

type announceResponse struct {
	FailureReason string      `bencode:"failure reason"`
	Interval      int         `bencode:"interval"`
	MinInterval   int         `bencode:"min interval"`
	TrackerID     string      `bencode:"tracker id"`
	Complete      int         `bencode:"complete"`
	Incomplete    int         `bencode:"incomplete"`
	Peers         interface{} `bencode:"peers"`
}

func (t *HTTPTransport) Announce(ctx context.Context, trackerURL string, p AnnounceParams) (AnnounceResult, error) {
	q := url.Values{}
	q.Set("info_hash", string(p.InfoHash[:]))
	q.Set("peer_id", string(p.PeerID[:]))
	q.Set("port", strconv.Itoa(p.Port))
	q.Set("uploaded", strconv.FormatInt(p.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(p.Downloaded, 10))
	q.Set("left", strconv.FormatInt(p.Left, 10))
	q.Set("compact", "1")
	if p.Event != EventNone {
		q.Set("event", p.Event.String())
	}
	if p.Key != "" {
		q.Set("key", p.Key)
	}
	if p.TrackerID != "" {
		q.Set("trackerid", p.TrackerID)
	}

	full := trackerURL
	if sep := "?"; len(q) > 0 {
		if contains(trackerURL, "?") {
			sep = "&"
		}
		full = trackerURL + sep + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker http: build request: %w", err)
	}
	req.Header.Set("User-Agent", version.HTTPUserAgent)
	resp, err := t.Client.Do(req)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return AnnounceResult{}, httpError{ErrTrackerNotFound, resp.StatusCode}
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return AnnounceResult{}, httpError{ErrTrackerUnavailable, resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return AnnounceResult{}, httpError{ErrTrackerHTTP, resp.StatusCode}
	}

	var ar announceResponse
	if err := bencode.Unmarshal(resp.Body, &ar); err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker http: decode: %w", err)
	}
	if ar.FailureReason != "" {
		return AnnounceResult{}, httpError{ErrTrackerFailure, 0, ar.FailureReason}
	}

	peers, err := decodePeers(ar.Peers)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker http: decode peers: %w", err)
	}

	return AnnounceResult{
		Interval:    time.Duration(ar.Interval) * time.Second,
		MinInterval: time.Duration(ar.MinInterval) * time.Second,
		Peers:       peers,
		Complete:    ar.Complete,
		Incomplete:  ar.Incomplete,
		TrackerID:   ar.TrackerID,
	}, nil
}

func (t *HTTPTransport) Scrape(ctx context.Context, trackerURL string) (ScrapeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackerURL, nil)
	if err != nil {
		return ScrapeResult{}, err
	}
	req.Header.Set("User-Agent", version.HTTPUserAgent)
	resp, err := t.Client.Do(req)
	if err != nil {
		return ScrapeResult{}, err
	}
	defer resp.Body.Close()
	var sr struct {
		Files map[string]struct {
			Complete   int `bencode:"complete"`
			Incomplete int `bencode:"incomplete"`
			Downloaded int `bencode:"downloaded"`
		} `bencode:"files"`
	}
	if err := bencode.Unmarshal(resp.Body, &sr); err != nil {
		return ScrapeResult{}, err
	}
	for _, f := range sr.Files {
		return ScrapeResult{Complete: f.Complete, Incomplete: f.Incomplete, Downloaded: f.Downloaded}, nil
	}
	return ScrapeResult{}, nil
}

// decodePeers handles both the compact (6-byte-per-peer string) and the
// dictionary-list peer encodings; bencode.Unmarshal into interface{}
// yields a string for the former and a []interface{} of map[string]
// interface{} for the latter.
func decodePeers(raw interface{}) ([]PeerAddr, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return decodeCompactPeers(v)
	case []interface{}:
		peers := make([]PeerAddr, 0, len(v))
		for _, entry := range v {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			ip, _ := m["ip"].(string)
			var port uint16
			switch pv := m["port"].(type) {
			case int64:
				port = uint16(pv)
			case int:
				port = uint16(pv)
			}
			peers = append(peers, PeerAddr{IP: ip, Port: port})
		}
		return peers, nil
	default:
		return nil, fmt.Errorf("tracker http: unrecognized peers encoding %T", raw)
	}
}

func decodeCompactPeers(s string) ([]PeerAddr, error) {
	b := []byte(s)
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("tracker http: compact peers length %d not a multiple of 6", len(b))
	}
	peers := make([]PeerAddr, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		ip := fmt.Sprintf("%d.%d.%d.%d", b[i], b[i+1], b[i+2], b[i+3])
		port := uint16(b[i+4])<<8 | uint16(b[i+5])
		peers = append(peers, PeerAddr{IP: ip, Port: port})
	}
	return peers, nil
}

type httpError struct {
	typ     ErrorType
	status  int
	message string
}

func (e httpError) Error() string {
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("tracker http: status %d", e.status)
}

func (e httpError) TrackerErrorType() ErrorType { return e.typ }

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// ws.go implements Transport over a WebSocket round trip for ws(s)://
// tracker URLs, alongside http.go's HTTP transport: dial, send one
// JSON-encoded request, read one JSON-encoded response, close. WebTorrent-
// style trackers speak a long-lived signaling protocol; this engine has no
// browser/WebRTC peer path, so only the announce/scrape request-response
// shape is implemented, matching what Transport actually needs.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport implements Transport over WebSocket.
type WSTransport struct {
	Dialer *websocket.Dialer
}

// NewWSTransport returns a WSTransport; a nil dialer uses
// websocket.DefaultDialer.
func NewWSTransport(dialer *websocket.Dialer) *WSTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WSTransport{Dialer: dialer}
}

type wsAnnounceRequest struct {
	Action     string `json:"action"`
	InfoHash   string `json:"info_hash"`
	PeerID     string `json:"peer_id"`
	Port       int    `json:"port"`
	Uploaded   int64  `json:"uploaded"`
	Downloaded int64  `json:"downloaded"`
	Left       int64  `json:"left"`
	Event      string `json:"event,omitempty"`
}

type wsPeer struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

type wsAnnounceResponse struct {
	FailureReason string   `json:"failure reason"`
	Interval      int      `json:"interval"`
	MinInterval   int      `json:"min interval"`
	Complete      int      `json:"complete"`
	Incomplete    int      `json:"incomplete"`
	TrackerID     string   `json:"tracker id"`
	Peers         []wsPeer `json:"peers"`
}

func (t *WSTransport) Announce(ctx context.Context, trackerURL string, p AnnounceParams) (AnnounceResult, error) {
	conn, _, err := t.Dialer.DialContext(ctx, trackerURL, nil)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker ws: dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}

	req := wsAnnounceRequest{
		Action:     "announce",
		InfoHash:   string(p.InfoHash[:]),
		PeerID:     string(p.PeerID[:]),
		Port:       p.Port,
		Uploaded:   p.Uploaded,
		Downloaded: p.Downloaded,
		Left:       p.Left,
	}
	if p.Event != EventNone {
		req.Event = p.Event.String()
	}
	if err := conn.WriteJSON(req); err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker ws: write: %w", err)
	}

	var resp wsAnnounceResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker ws: read: %w", err)
	}
	if resp.FailureReason != "" {
		return AnnounceResult{}, httpError{ErrTrackerFailure, 0, resp.FailureReason}
	}

	peers := make([]PeerAddr, 0, len(resp.Peers))
	for _, pr := range resp.Peers {
		peers = append(peers, PeerAddr{IP: pr.IP, Port: pr.Port})
	}
	return AnnounceResult{
		Interval:    time.Duration(resp.Interval) * time.Second,
		MinInterval: time.Duration(resp.MinInterval) * time.Second,
		Peers:       peers,
		Complete:    resp.Complete,
		Incomplete:  resp.Incomplete,
		TrackerID:   resp.TrackerID,
	}, nil
}

func (t *WSTransport) Scrape(ctx context.Context, trackerURL string) (ScrapeResult, error) {
	conn, _, err := t.Dialer.DialContext(ctx, trackerURL, nil)
	if err != nil {
		return ScrapeResult{}, fmt.Errorf("tracker ws: dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(map[string]string{"action": "scrape"}); err != nil {
		return ScrapeResult{}, fmt.Errorf("tracker ws: write: %w", err)
	}
	var resp struct {
		Complete   int `json:"complete"`
		Incomplete int `json:"incomplete"`
		Downloaded int `json:"downloaded"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		return ScrapeResult{}, fmt.Errorf("tracker ws: read: %w", err)
	}
	return ScrapeResult{Complete: resp.Complete, Incomplete: resp.Incomplete, Downloaded: resp.Downloaded}, nil
}

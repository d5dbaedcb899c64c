package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gorilla/websocket"
)

// wsEchoTrackerServer upgrades one connection and answers whatever
// "action" request it receives with a fixed announce or scrape response,
// enough to drive WSTransport through a full round trip.
func wsEchoTrackerServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		switch req["action"] {
		case "announce":
			conn.WriteJSON(wsAnnounceResponse{
				Interval:   1800,
				Complete:   1,
				Incomplete: 2,
				Peers:      []wsPeer{{IP: "1.2.3.4", Port: 6881}},
			})
		case "scrape":
			conn.WriteJSON(map[string]int{"complete": 1, "incomplete": 2, "downloaded": 3})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSTransportAnnounceRoundTrip(t *testing.T) {
	c := qt.New(t)
	srv := wsEchoTrackerServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	tr := NewWSTransport(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := tr.Announce(ctx, wsURL, AnnounceParams{Port: 6881})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Interval, qt.Equals, 1800*time.Second)
	c.Assert(res.Complete, qt.Equals, 1)
	c.Assert(res.Incomplete, qt.Equals, 2)
	c.Assert(res.Peers, qt.HasLen, 1)
	c.Assert(res.Peers[0].IP, qt.Equals, "1.2.3.4")
	c.Assert(res.Peers[0].Port, qt.Equals, uint16(6881))
}

func TestWSTransportScrapeRoundTrip(t *testing.T) {
	c := qt.New(t)
	srv := wsEchoTrackerServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	tr := NewWSTransport(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := tr.Scrape(ctx, wsURL)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Complete, qt.Equals, 1)
	c.Assert(res.Incomplete, qt.Equals, 2)
	c.Assert(res.Downloaded, qt.Equals, 3)
}

package torrent

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	"github.com/anacrolix/log"

	"github.com/btengine/torrent/metainfo"
	"github.com/btengine/torrent/peerprotocol"
	"github.com/btengine/torrent/version"
)

// ClientConfig bundles a Client's fixed configuration.
type ClientConfig struct {
	ListenPort int
	Networks   []string // e.g. {"tcp4", "tcp6"}; empty disables listening
	Logger     log.Logger
}

// Client owns the listen sockets and peer-id shared across every Download
// it manages, mirroring the teacher's Client/Torrent split: Client is the
// process-wide resource owner, Download is the one-per-swarm engine.
type Client struct {
	cfg     ClientConfig
	peerID  peerprotocol.PeerID
	sockets []socket

	mu        sync.Mutex
	downloads map[metainfo.Hash]*Download
}

// NewClient generates a fresh peer-id (BEP 20 prefix + random suffix) and
// opens the configured listen sockets.
func NewClient(cfg ClientConfig) (*Client, error) {
	c := &Client{cfg: cfg, downloads: make(map[metainfo.Hash]*Download)}
	copy(c.peerID[:], version.Bep20Prefix)
	if _, err := rand.Read(c.peerID[len(version.Bep20Prefix):]); err != nil {
		return nil, fmt.Errorf("generating peer id: %w", err)
	}

	if len(cfg.Networks) > 0 {
		sockets, err := listenAll(cfg.Networks, func(string) string { return "" }, cfg.ListenPort)
		if err != nil {
			return nil, fmt.Errorf("listening: %w", err)
		}
		c.sockets = sockets
		for _, s := range c.sockets {
			go c.acceptLoop(s)
		}
	}
	return c, nil
}

func (c *Client) acceptLoop(s socket) {
	for {
		conn, err := s.Accept()
		if err != nil {
			c.cfg.Logger.WithDefaultLevel(log.Debug).Printf("accept error on %v: %v", s.Addr(), err)
			return
		}
		go c.handleIncoming(conn)
	}
}

// handleIncoming reads the incoming handshake, looks up the matching
// Download by info-hash, replies with our own handshake, and admits the
// connection — spec.md §4.12's "accept" path into C11.
func (c *Client) handleIncoming(conn net.Conn) {
	hs, err := peerprotocol.ReadHandshake(conn)
	if err != nil {
		conn.Close()
		return
	}
	d := c.Download(metainfo.Hash(hs.InfoHash))
	if d == nil {
		conn.Close()
		return
	}
	reply := peerprotocol.Handshake{InfoHash: hs.InfoHash, PeerID: c.peerID}
	if _, err := conn.Write(reply.MarshalBinary()); err != nil {
		conn.Close()
		return
	}
	if err := d.AcceptPeer(conn); err != nil {
		conn.Close()
	}
}

// Dial opens a connection to addr for torrent infoHash, performing the
// handshake before admitting it into the Download's connection list.
func (c *Client) Dial(dialer Dialer, addr string, infoHash metainfo.Hash) error {
	d := c.Download(infoHash)
	if d == nil {
		return fmt.Errorf("torrent: no download registered for info hash %v", infoHash)
	}
	conn, err := dialer.Dial(context.Background(), addr)
	if err != nil {
		return err
	}
	hs := peerprotocol.Handshake{InfoHash: peerprotocol.InfoHash(infoHash), PeerID: c.peerID}
	if _, err := conn.Write(hs.MarshalBinary()); err != nil {
		conn.Close()
		return err
	}
	if _, err := peerprotocol.ReadHandshake(conn); err != nil {
		conn.Close()
		return err
	}
	return d.AcceptPeer(conn)
}

// AddDownload registers d under its info-hash so incoming handshakes can be
// routed to it.
func (c *Client) AddDownload(d *Download) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads[d.infoHash] = d
}

// RemoveDownload unregisters a Download, e.g. after it is closed.
func (c *Client) RemoveDownload(infoHash metainfo.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.downloads, infoHash)
}

// Download looks up a registered Download by info-hash.
func (c *Client) Download(infoHash metainfo.Hash) *Download {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloads[infoHash]
}

// Close closes every listen socket and every registered Download.
func (c *Client) Close() error {
	for _, s := range c.sockets {
		s.Close()
	}
	c.mu.Lock()
	downloads := make([]*Download, 0, len(c.downloads))
	for _, d := range c.downloads {
		downloads = append(downloads, d)
	}
	c.mu.Unlock()
	var firstErr error
	for _, d := range downloads {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

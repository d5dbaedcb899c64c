// Package version provides the client identification strings woven into
// the wire handshake peer-id and the tracker HTTP User-Agent, the way the
// teacher's version package does for its client. The engine has no UPnP
// port mapping; UPnPID is defined but nothing reads it.
package version

var (
	// Bep20Prefix is the 8-byte client identifier prefixed onto the
	// peer-id's remaining 12 random bytes (BEP 20).
	Bep20Prefix = "-BE0001-"

	// HTTPUserAgent is sent on every tracker HTTP announce/scrape request.
	HTTPUserAgent = "btengine/0.1"

	// UPnPID is a client name for a UPnP/IGD gateway. No code in the
	// engine performs UPnP mapping or reads this value.
	UPnPID = "btengine/0.1"
)

package hashpipe

import (
	"crypto/sha1"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/anacrolix/log"
)

type bytesHandle []byte

func (b bytesHandle) Bytes() []byte { return b }

func TestHashDelivered(t *testing.T) {
	c := qt.New(t)
	p := New(log.Default)
	go p.Run()
	defer p.Close()

	data := []byte("hello world")
	p.Enqueue("torrent-1", 3, bytesHandle(data))

	select {
	case res := <-p.Results():
		c.Assert(res.ChunkIndex, qt.Equals, 3)
		c.Assert(res.Hash, qt.Equals, sha1.Sum(data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hash result")
	}
}

func TestRemoveIsIdempotentAndDropsLaterJobs(t *testing.T) {
	c := qt.New(t)
	p := New(log.Default)
	go p.Run()
	defer p.Close()

	p.Remove("torrent-2")
	p.Remove("torrent-2") // idempotent
	time.Sleep(20 * time.Millisecond)
	p.Enqueue("torrent-2", 0, bytesHandle([]byte("x")))

	select {
	case <-p.Results():
		t.Fatal("removed job should not deliver a result")
	case <-time.After(100 * time.Millisecond):
	}
	c.Assert(true, qt.IsTrue)
}

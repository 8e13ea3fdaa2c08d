package commands

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/shynome/rtcnego/peer"
	"github.com/shynome/rtcnego/signaler/local"
)

type syncBuffer struct {
	l   sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.l.Lock()
	defer b.l.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.l.Lock()
	defer b.l.Unlock()
	return b.buf.String()
}

func waitOutput(t *testing.T, b *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !strings.Contains(b.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output %q does not contain %q", b.String(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// connPair returns the two ends of a loopback connection: the one dialed
// by alice (remote id bob) and the one accepted by bob (remote id alice).
func connPair(t *testing.T, ctx context.Context) (*peer.Conn, *peer.Conn) {
	signals := local.NewHub()
	hubs := map[string]*peer.Hub{}
	for _, id := range []string{"alice", "bob"} {
		s := local.NewServer()
		signals.Register(id, s)
		h := peer.NewHub(s, nil)
		try.To(h.Open(0))
		t.Cleanup(func() { h.Close() })
		hubs[id] = h
	}

	conns := try.To1(hubs["bob"].Accept(ctx))
	dialed := try.To1(hubs["alice"].Connect(ctx, "bob"))
	select {
	case accepted := <-conns:
		return dialed, accepted
	case <-ctx.Done():
		t.Fatal("bob did not accept")
	}
	return nil, nil
}

func TestRoom(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	toBob, toAlice := connPair(t, ctx)

	var out syncBuffer
	r := newRoom(&out)
	r.join(toBob)
	waitOutput(t, &out, "* bob connected")

	r.run(ctx, strings.NewReader("hello bob\n"), nil)
	select {
	case msg := <-toAlice.Message():
		assert.Equal(string(msg.Data), "hello bob")
	case <-time.After(10 * time.Second):
		t.Fatal("broadcast did not arrive")
	}

	try.To(toAlice.SendText("hi alice"))
	waitOutput(t, &out, "[bob] hi alice")

	toBob.Close()
	waitOutput(t, &out, "* bob disconnected")
}

func TestRoomStopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	r := newRoom(&syncBuffer{})

	// input never ends; run must still return
	in, w := io.Pipe()
	defer w.Close()
	r.run(context.Background(), in, done)
}

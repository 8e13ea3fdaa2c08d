package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
	impl "github.com/shynome/rtcnego/signaler"
)

func startRelay(t *testing.T) (*Server, string) {
	relay := NewServer(nil)
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := try.To1(Dial(ctx, url, nil))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetMyID(t *testing.T) {
	_, url := startRelay(t)
	c1 := dial(t, url)
	c2 := dial(t, url)
	assert.That(c1.ID() != "")
	assert.That(c1.ID() != c2.ID())
}

func TestHandshake(t *testing.T) {
	_, url := startRelay(t)
	c1 := dial(t, url)
	c2 := dial(t, url)

	ch := try.To1(c1.Accept())
	go func() {
		for session := range ch {
			assert.Equal(session.From(), c2.ID())
			assert.Equal(session.Description().SDP, "v=0 offer")
			try.To(session.Resolve(&impl.SDP{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	answer := try.To1(c2.Handshake(ctx, c1.ID(), impl.SDP{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}))
	assert.Equal(answer.Type, webrtc.SDPTypeAnswer)
	assert.Equal(answer.SDP, "v=0 answer")
}

func TestReject(t *testing.T) {
	_, url := startRelay(t)
	c1 := dial(t, url)
	c2 := dial(t, url)

	ch := try.To1(c1.Accept())
	go func() {
		for session := range ch {
			session.Reject(errors.New("busy"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c2.Handshake(ctx, c1.ID(), impl.SDP{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	assert.That(errors.Is(err, impl.ErrRejected))
	assert.That(strings.Contains(err.Error(), "busy"))
}

// offers to unknown ids are dropped by the relay, so only the caller's
// deadline ends the handshake
func TestUnknownReceiver(t *testing.T) {
	_, url := startRelay(t)
	c := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Handshake(ctx, "nobody", impl.SDP{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	assert.That(errors.Is(err, context.DeadlineExceeded))
}

func TestBusy(t *testing.T) {
	_, url := startRelay(t)
	c := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := c.Handshake(ctx, "nobody", impl.SDP{Type: webrtc.SDPTypeOffer})
		first <- err
	}()
	time.Sleep(50 * time.Millisecond)
	_, err := c.Handshake(ctx, "nobody", impl.SDP{Type: webrtc.SDPTypeOffer})
	assert.Equal(err, ErrBusy)
	cancel()
	<-first
}

func TestClose(t *testing.T) {
	relay, url := startRelay(t)
	c := dial(t, url)
	ch := try.To1(c.Accept())
	try.To(c.Close())

	select {
	case _, ok := <-ch:
		assert.That(!ok)
	case <-time.After(5 * time.Second):
		t.Fatal("offer channel was not closed")
	}
	_, err := c.Handshake(context.Background(), "nobody", impl.SDP{Type: webrtc.SDPTypeOffer})
	assert.That(err != nil)

	deadline := time.Now().Add(5 * time.Second)
	for relay.Peers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(relay.Peers(), 0)
}

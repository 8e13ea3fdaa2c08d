package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/pion/webrtc/v3"
	impl "github.com/shynome/rtcnego/signaler"
)

func startBroker(t *testing.T) (*mochi.Server, string) {
	l := try.To1(net.Listen("tcp", "127.0.0.1:0"))
	addr := l.Addr().String()
	try.To(l.Close())

	server := mochi.New(nil)
	try.To(server.AddHook(new(auth.AllowHook), nil))
	try.To(server.AddListener(listeners.NewTCP(listeners.Config{ID: "t1", Address: addr})))
	try.To(server.Serve())
	t.Cleanup(func() { server.Close() })
	return server, fmt.Sprintf("tcp://%s", addr)
}

func dial(t *testing.T, broker, id string) *Client {
	c := try.To1(Dial(id, Config{Broker: broker, Prefix: "rtcnego-test-" + t.Name()}, nil))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTopics(t *testing.T) {
	assert.Equal(offerTopic("p", "a"), "p/a/offer")
	assert.Equal(replyTopic("p", "a"), "p/a/reply")
}

func TestReplyAnswer(t *testing.T) {
	answer := try.To1(replyAnswer(envelope{SDP: &impl.SDP{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}}))
	assert.Equal(answer.SDP, "v=0")

	_, err := replyAnswer(envelope{Reason: "busy"})
	assert.That(errors.Is(err, impl.ErrRejected))
	assert.That(strings.Contains(err.Error(), "busy"))

	_, err = replyAnswer(envelope{})
	assert.Equal(err, impl.ErrRejected)
}

func TestHandshake(t *testing.T) {
	_, broker := startBroker(t)
	callee := dial(t, broker, "callee")
	caller := dial(t, broker, "caller")

	ch := try.To1(callee.Accept())
	go func() {
		for session := range ch {
			assert.Equal(session.From(), "caller")
			assert.Equal(session.Description().SDP, "v=0 offer")
			session.Resolve(&impl.SDP{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer := try.To1(caller.Handshake(ctx, "callee", impl.SDP{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}))
	assert.Equal(answer.Type, webrtc.SDPTypeAnswer)
	assert.Equal(answer.SDP, "v=0 answer")
}

// concurrent handshakes to one callee get their own answers back
func TestHandshakeNonce(t *testing.T) {
	_, broker := startBroker(t)
	callee := dial(t, broker, "callee")
	caller := dial(t, broker, "caller")

	ch := try.To1(callee.Accept())
	go func() {
		for session := range ch {
			offer := session.Description().SDP
			session.Resolve(&impl.SDP{Type: webrtc.SDPTypeAnswer, SDP: "re: " + offer})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		offer := fmt.Sprintf("offer %d", i)
		go func() {
			answer, err := caller.Handshake(ctx, "callee", impl.SDP{Type: webrtc.SDPTypeOffer, SDP: offer})
			if err == nil && answer.SDP != "re: "+offer {
				err = fmt.Errorf("%q answered with %q", offer, answer.SDP)
			}
			results <- err
		}()
	}
	for i := 0; i < 4; i++ {
		try.To(<-results)
	}
}

func TestReject(t *testing.T) {
	_, broker := startBroker(t)
	callee := dial(t, broker, "callee")
	caller := dial(t, broker, "caller")

	ch := try.To1(callee.Accept())
	go func() {
		for session := range ch {
			session.Reject(errors.New("busy"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := caller.Handshake(ctx, "callee", impl.SDP{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	assert.That(errors.Is(err, impl.ErrRejected))
	assert.That(strings.Contains(err.Error(), "busy"))
}

func TestNoCallee(t *testing.T) {
	_, broker := startBroker(t)
	caller := dial(t, broker, "caller")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := caller.Handshake(ctx, "nobody", impl.SDP{Type: webrtc.SDPTypeOffer})
	assert.That(errors.Is(err, context.DeadlineExceeded))
}

func TestAcceptClosed(t *testing.T) {
	_, broker := startBroker(t)
	callee := dial(t, broker, "callee")
	ch := try.To1(callee.Accept())
	again := try.To1(callee.Accept())
	assert.That(ch == again)
	try.To(callee.Close())

	_, ok := <-ch
	assert.That(!ok)
	_, err := callee.Accept()
	assert.Equal(err, impl.ErrClosed)
}

// the reply topic cannot be subscribed, the broker session must not stay
func TestDialCleanup(t *testing.T) {
	server, broker := startBroker(t)

	c, err := Dial("bad", Config{Broker: broker, Prefix: "bad/#"}, nil)
	assert.That(err != nil)
	assert.That(c == nil)

	deadline := time.Now().Add(5 * time.Second)
	for server.Clients.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(server.Clients.Len(), 0)
}

func TestDialUnreachable(t *testing.T) {
	_, err := Dial("nobody", Config{Broker: "tcp://127.0.0.1:1", Timeout: time.Second, Prefix: uuid.NewString()}, nil)
	assert.That(err != nil)
}

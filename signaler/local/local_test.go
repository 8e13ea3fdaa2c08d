package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/rtcnego/signaler"
)

func TestChannel(t *testing.T) {
	var hub = NewHub()
	s1, s2 := NewServer(), NewServer()
	hub.Register("s1", s1)
	hub.Register("s2", s2)

	offer := signaler.SDP{Type: webrtc.SDPTypeOffer}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := try.To1(s1.Accept())
		cancel()
		for session := range ch {
			offer := session.Description()
			assert.Equal(offer.Type, webrtc.SDPTypeOffer)
			assert.Equal(session.From(), "s2")
			session.Resolve(&signaler.SDP{Type: webrtc.SDPTypeAnswer})
		}
	}()
	<-ctx.Done() // wait unitl s1 start accept

	answer := try.To1(s2.Handshake(context.Background(), "s1", offer))
	assert.Equal(answer.Type, webrtc.SDPTypeAnswer)
	try.To(s1.Close())
}

func TestReject(t *testing.T) {
	hub := NewHub()
	s1, s2 := NewServer(), NewServer()
	hub.Register("s1", s1)
	id := hub.Join(s2)
	assert.That(id != "")
	defer s1.Close()

	errBusy := errors.New("busy")
	ch := try.To1(s1.Accept())
	go func() {
		for session := range ch {
			session.Reject(errBusy)
		}
	}()

	_, err := s2.Handshake(context.Background(), "s1", signaler.SDP{Type: webrtc.SDPTypeOffer})
	assert.That(errors.Is(err, signaler.ErrRejected))
	assert.That(errors.Is(err, errBusy))
}

func TestHandshakeTimeout(t *testing.T) {
	hub := NewHub()
	s1, s2 := NewServer(), NewServer()
	hub.Register("s1", s1)
	hub.Register("s2", s2)
	s2.Timeout = 20 * time.Millisecond
	try.To1(s1.Accept()) // nobody reads offers

	_, err := s2.Handshake(context.Background(), "s1", signaler.SDP{Type: webrtc.SDPTypeOffer})
	assert.That(errors.Is(err, context.DeadlineExceeded))
}

func TestHandshakeErrors(t *testing.T) {
	s := NewServer()
	_, err := s.Handshake(context.Background(), "nobody", signaler.SDP{})
	assert.That(err != nil)

	hub := NewHub()
	hub.Register("s", s)
	_, err = s.Handshake(context.Background(), "nobody", signaler.SDP{})
	assert.That(err != nil)

	idle := NewServer()
	hub.Register("idle", idle)
	_, err = s.Handshake(context.Background(), "idle", signaler.SDP{})
	assert.That(err != nil)
}

func TestClose(t *testing.T) {
	hub := NewHub()
	s := NewServer()
	hub.Register("s", s)
	ch := try.To1(s.Accept())

	try.To(s.Close())
	try.To(s.Close())
	_, ok := <-ch
	assert.That(!ok)
	assert.That(hub.Find("s") == nil)

	_, err := s.Accept()
	assert.That(errors.Is(err, signaler.ErrClosed))
}

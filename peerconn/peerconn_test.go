package peerconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/rtcnego"
)

func newPC(t *testing.T) *webrtc.PeerConnection {
	pc := try.To1(webrtc.NewPeerConnection(webrtc.Configuration{}))
	t.Cleanup(func() { pc.Close() })
	return pc
}

func TestOfferAnswer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pc1 := newPC(t)
	try.To1(pc1.CreateDataChannel("channel", nil))
	offerer := Wrap(pc1)

	offer := try.To1(rtcnego.NegotiateContext(ctx, offerer, rtcnego.Offerer))
	assert.Equal(pc1.ICEGatheringState(), webrtc.ICEGatheringStateComplete)
	assert.Equal(offerer.Subscribers(), 0)
	try.To1(Candidates(offer))

	pc2 := newPC(t)
	try.To(pc2.SetRemoteDescription(rtcnego.SDP{Type: webrtc.SDPTypeOffer, SDP: offer}))
	answer := try.To1(rtcnego.NegotiateContext(ctx, Wrap(pc2), rtcnego.Answerer))
	assert.Equal(pc2.LocalDescription().Type, webrtc.SDPTypeAnswer)

	try.To(pc1.SetRemoteDescription(rtcnego.SDP{Type: webrtc.SDPTypeAnswer, SDP: answer}))
}

func TestRenegotiateAfterComplete(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pc1 := newPC(t)
	try.To1(pc1.CreateDataChannel("channel", nil))
	p := Wrap(pc1)
	pc2 := newPC(t)

	offer := try.To1(rtcnego.NegotiateContext(ctx, p, rtcnego.Offerer))
	try.To(pc2.SetRemoteDescription(rtcnego.SDP{Type: webrtc.SDPTypeOffer, SDP: offer}))
	answer := try.To1(rtcnego.NegotiateContext(ctx, Wrap(pc2), rtcnego.Answerer))
	try.To(pc1.SetRemoteDescription(rtcnego.SDP{Type: webrtc.SDPTypeAnswer, SDP: answer}))
	assert.Equal(pc1.SignalingState(), webrtc.SignalingStateStable)
	assert.Equal(pc1.ICEGatheringState(), webrtc.ICEGatheringStateComplete)

	// gathering is finished and pion will not report it again; the restart
	// must still let the second round resolve
	second := try.To1(rtcnego.NegotiateContext(ctx, p, rtcnego.Offerer))
	assert.That(second != "")
	assert.Equal(p.Subscribers(), 0)
}

func TestRearmOnlyAfterRestart(t *testing.T) {
	pc := newPC(t)
	try.To1(pc.CreateDataChannel("channel", nil))
	p := Wrap(pc)

	offer := try.To1(p.CreateOffer())
	done := make(chan struct{})
	unsubscribe := p.OnICEGatheringStateChange(func(s rtcnego.GatheringState) {
		if s == rtcnego.GatheringStateComplete {
			close(done)
		}
	})
	try.To(p.SetLocalDescription(offer))
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("gathering did not complete")
	}
	unsubscribe()

	late := make(chan rtcnego.GatheringState, 1)
	unsubscribe = p.OnICEGatheringStateChange(func(s rtcnego.GatheringState) { late <- s })
	select {
	case s := <-late:
		t.Fatalf("unexpected %s without restart", s)
	case <-time.After(50 * time.Millisecond):
	}
	unsubscribe()

	p.RestartICE()
	unsubscribe = p.OnICEGatheringStateChange(func(s rtcnego.GatheringState) { late <- s })
	defer unsubscribe()
	select {
	case s := <-late:
		assert.Equal(s, rtcnego.GatheringStateComplete)
	case <-time.After(time.Second):
		t.Fatal("restart did not replay completion")
	}
}

func TestCandidates(t *testing.T) {
	text := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=candidate:1 1 udp 2130706431 192.168.1.2 50000 typ host\r\n" +
		"a=candidate:2 1 udp 1694498815 203.0.113.7 50001 typ srflx raddr 0.0.0.0 rport 50000\r\n" +
		"a=end-of-candidates\r\n"

	candidates := try.To1(Candidates(text))
	assert.Equal(len(candidates), 2)
	assert.Equal(candidates[0], "1 1 udp 2130706431 192.168.1.2 50000 typ host")
}

func TestCandidatesInvalid(t *testing.T) {
	for _, text := range []string{"", "not sdp", "hello\r\nworld"} {
		_, err := Candidates(text)
		assert.That(err != nil)
	}

	// a well formed session without media has nothing to gather on
	_, err := Candidates("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n")
	assert.That(errors.Is(err, ErrNoMedia))
}

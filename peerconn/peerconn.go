// Package peerconn adapts a pion PeerConnection to rtcnego.PeerConnection.
package peerconn

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/shynome/rtcnego"
)

type PeerConnection struct {
	pc *webrtc.PeerConnection

	OfferOptions  *webrtc.OfferOptions
	AnswerOptions *webrtc.AnswerOptions

	subsL   sync.Mutex
	subs    map[uint64]func(rtcnego.GatheringState)
	nextID  uint64
	rearmed bool
}

var _ rtcnego.PeerConnection = (*PeerConnection)(nil)

// Wrap takes over the gathering state handler of pc. Register further
// gathering listeners through the returned value, not on pc directly, since
// pion keeps a single handler per connection.
func Wrap(pc *webrtc.PeerConnection) *PeerConnection {
	p := &PeerConnection{
		pc:   pc,
		subs: make(map[uint64]func(rtcnego.GatheringState)),
	}
	pc.OnICEGatheringStateChange(p.dispatch)
	return p
}

func (p *PeerConnection) Raw() *webrtc.PeerConnection { return p.pc }

func (p *PeerConnection) CreateOffer() (rtcnego.SDP, error) {
	return p.pc.CreateOffer(p.OfferOptions)
}

func (p *PeerConnection) CreateAnswer() (rtcnego.SDP, error) {
	return p.pc.CreateAnswer(p.AnswerOptions)
}

func (p *PeerConnection) SetLocalDescription(desc rtcnego.SDP) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *PeerConnection) LocalDescription() *rtcnego.SDP {
	return p.pc.LocalDescription()
}

// RestartICE re-arms the gathering listeners. pion only gathers again as
// part of an ICE restart renegotiation, which would invalidate the
// description just committed, so instead the next subscriber is told about
// a completed gathering it would otherwise never see.
func (p *PeerConnection) RestartICE() {
	p.subsL.Lock()
	defer p.subsL.Unlock()
	p.rearmed = true
}

func (p *PeerConnection) OnICEGatheringStateChange(f func(rtcnego.GatheringState)) (unsubscribe func()) {
	p.subsL.Lock()
	defer p.subsL.Unlock()

	id := p.nextID
	p.nextID++
	p.subs[id] = f

	if p.rearmed && p.pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		p.rearmed = false
		go f(rtcnego.GatheringStateComplete)
	}

	return func() {
		p.subsL.Lock()
		defer p.subsL.Unlock()
		delete(p.subs, id)
	}
}

func (p *PeerConnection) dispatch(s webrtc.ICEGathererState) {
	var state rtcnego.GatheringState
	switch s {
	case webrtc.ICEGathererStateNew:
		state = rtcnego.GatheringStateNew
	case webrtc.ICEGathererStateGathering:
		state = rtcnego.GatheringStateGathering
	case webrtc.ICEGathererStateComplete:
		state = rtcnego.GatheringStateComplete
	default:
		return
	}

	p.subsL.Lock()
	fns := make([]func(rtcnego.GatheringState), 0, len(p.subs))
	for _, f := range p.subs {
		fns = append(fns, f)
	}
	// a completion nobody heard stays armed for the next subscriber
	if state == rtcnego.GatheringStateComplete && len(fns) > 0 {
		p.rearmed = false
	}
	p.subsL.Unlock()

	for _, f := range fns {
		f(state)
	}
}

// Subscribers reports the number of registered gathering listeners.
func (p *PeerConnection) Subscribers() int {
	p.subsL.Lock()
	defer p.subsL.Unlock()
	return len(p.subs)
}

// Package rtcnego produces local session descriptions whose ICE candidate
// set is final, so they can be exchanged in a single offer/answer round trip
// without trickle ICE.
package rtcnego

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

type SDP = webrtc.SessionDescription

// PeerConnection is the part of a peer connection the negotiator drives.
// It is borrowed for the duration of one negotiation and is never closed here.
type PeerConnection interface {
	CreateOffer() (SDP, error)
	CreateAnswer() (SDP, error)
	SetLocalDescription(desc SDP) error

	// RestartICE restarts local candidate discovery. It must not block.
	RestartICE()

	// LocalDescription returns the committed local description or nil.
	LocalDescription() *SDP

	// OnICEGatheringStateChange registers f for every gathering state
	// transition of this connection. f may be called from any goroutine.
	OnICEGatheringStateChange(f func(GatheringState)) (unsubscribe func())
}

type GatheringState int

const (
	GatheringStateNew GatheringState = iota
	GatheringStateGathering
	GatheringStateComplete
)

func (s GatheringState) String() string {
	switch s {
	case GatheringStateNew:
		return "new"
	case GatheringStateGathering:
		return "gathering"
	case GatheringStateComplete:
		return "complete"
	}
	return "unknown"
}

type Role int

const (
	Offerer Role = iota
	Answerer
)

func (r Role) String() string {
	switch r {
	case Offerer:
		return "offerer"
	case Answerer:
		return "answerer"
	}
	return "unknown"
}

var (
	ErrUnknownRole        = errors.New("unknown negotiation role")
	ErrNoLocalDescription = errors.New("local description is empty after ice gathering")
)

// Negotiate creates an offer or answer for role, commits it as the local
// description and returns its SDP once candidate gathering has completed.
//
// There is no deadline: if gathering never completes Negotiate never returns.
// Use NegotiateContext to bound the wait.
func Negotiate(pc PeerConnection, role Role) (string, error) {
	return NegotiateContext(context.Background(), pc, role)
}

// NegotiateContext is Negotiate with a cancellable wait for gathering.
// When ctx is done first it returns context.Cause(ctx); the description
// has already been committed at that point.
//
// Errors from description creation and commit are returned unmodified.
func NegotiateContext(ctx context.Context, pc PeerConnection, role Role) (sdp string, err error) {
	var desc SDP
	switch role {
	case Offerer:
		desc, err = pc.CreateOffer()
	case Answerer:
		desc, err = pc.CreateAnswer()
	default:
		return "", ErrUnknownRole
	}
	if err != nil {
		return "", err
	}
	if err = pc.SetLocalDescription(desc); err != nil {
		return "", err
	}

	// restart even when gathering already finished, otherwise the wait
	// below could miss a complete event that fired before subscription
	pc.RestartICE()

	if err = waitGatheringComplete(ctx, pc); err != nil {
		return "", err
	}

	local := pc.LocalDescription()
	if local == nil || local.SDP == "" {
		return "", ErrNoLocalDescription
	}
	return local.SDP, nil
}

// Offer is Negotiate(pc, Offerer).
func Offer(pc PeerConnection) (string, error) { return Negotiate(pc, Offerer) }

// Answer is Negotiate(pc, Answerer).
func Answer(pc PeerConnection) (string, error) { return Negotiate(pc, Answerer) }

func waitGatheringComplete(ctx context.Context, pc PeerConnection) error {
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := pc.OnICEGatheringStateChange(func(s GatheringState) {
		if s != GatheringStateComplete {
			return
		}
		once.Do(func() { close(done) })
	})
	if unsubscribe != nil {
		defer unsubscribe()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Package signaler defines how offers and answers travel between peers
// before a peer connection exists.
package signaler

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v3"
)

type SDP = webrtc.SessionDescription

type Channel interface {
	// Handshake delivers offer to endpoint and waits for its answer.
	Handshake(ctx context.Context, endpoint string, offer SDP) (answer *SDP, err error)
	// Accept returns the offers addressed to this channel. The returned
	// channel is closed when the Channel is closed.
	Accept() (offerCh <-chan Session, err error)

	Close() error
}

type Session interface {
	// From identifies the offering side, usable as a Handshake endpoint.
	From() string
	Description() (offer SDP)
	Resolve(answer *SDP) (err error)
	Reject(err error)
}

var (
	ErrRejected = errors.New("offer rejected by remote peer")
	ErrClosed   = errors.New("signaler is closed")
)

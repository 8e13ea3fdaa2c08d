package peer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/pion/webrtc/v3"
)

var ErrDataChannelClosed = errors.New("DataChannel state is closed")

// WaitDC blocks until dc is open, fails, or ctx is done.
func WaitDC(ctx context.Context, dc *webrtc.DataChannel) (err error) {
	switch dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return
	case webrtc.DataChannelStateClosing, webrtc.DataChannelStateClosed:
		return ErrDataChannelClosed
	}

	ctx, cancelWith := context.WithCancelCause(ctx)
	defer cancelWith(nil)

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	dc.OnError(func(err error) { cancelWith(err) })
	// the channel may have opened before OnOpen was installed
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		return nil
	}

	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// remoteAddr reports the remote side of the selected candidate pair, or an
// empty string while none is selected.
func remoteAddr(pc *webrtc.PeerConnection) string {
	if pc == nil {
		return ""
	}
	sctp := pc.SCTP()
	if sctp == nil {
		return ""
	}
	dtls := sctp.Transport()
	if dtls == nil {
		return ""
	}
	ice := dtls.ICETransport()
	if ice == nil {
		return ""
	}
	pair, err := ice.GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Remote == nil {
		return ""
	}
	return net.JoinHostPort(pair.Remote.Address, fmt.Sprint(pair.Remote.Port))
}

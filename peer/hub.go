// Package peer opens data channels to other peers, negotiating each peer
// connection with rtcnego and exchanging descriptions over a signaler.
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/rtcnego"
	"github.com/shynome/rtcnego/mux"
	"github.com/shynome/rtcnego/peerconn"
	"github.com/shynome/rtcnego/signaler"
	"github.com/sirupsen/logrus"
)

// ChannelLabel is the label of the data channel a Conn talks over.
const ChannelLabel = "channel"

var ErrHubClosed = errors.New("hub is closed")

type Hub struct {
	signaler signaler.Channel
	logger   *logrus.Entry

	ICEServers []webrtc.ICEServer
	// Timeout bounds answering one incoming offer.
	Timeout time.Duration

	api *webrtc.API
	mux ice.UDPMux

	connsL sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

func NewHub(signaler signaler.Channel, logger *logrus.Entry) *Hub {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		signaler: signaler,
		logger:   logger,
		Timeout:  30 * time.Second,
		conns:    make(map[*Conn]struct{}),
	}
}

// Open prepares the pion API. With port > 0 every connection of the hub
// gathers on that single UDP port.
func (h *Hub) Open(port uint16) (err error) {
	defer err2.Handle(&err)
	h.api, h.mux = try.To2(mux.NewAPI(webrtc.SettingEngine{}, port))
	if h.mux != nil {
		h.logger.WithField("port", port).Debug("sharing one udp port")
	}
	return
}

func (h *Hub) newPeerConnection() (*webrtc.PeerConnection, error) {
	if h.api == nil {
		if err := h.Open(0); err != nil {
			return nil, err
		}
	}
	return h.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: h.ICEServers,
	})
}

// Connect offers a connection to the peer registered as id on the signaler
// and returns once the data channel is open.
func (h *Hub) Connect(ctx context.Context, id string) (c *Conn, err error) {
	var pc *webrtc.PeerConnection
	defer func() {
		if err != nil && pc != nil {
			pc.Close()
		}
	}()
	defer err2.Handle(&err)

	pc = try.To1(h.newPeerConnection())
	dc := try.To1(pc.CreateDataChannel(ChannelLabel, nil))
	c = newConn(id, pc, h.logger)
	c.attach(dc)

	offer := try.To1(rtcnego.NegotiateContext(ctx, peerconn.Wrap(pc), rtcnego.Offerer))
	h.logger.WithField("peer", id).Debug("offer gathered")
	answer := try.To1(h.signaler.Handshake(ctx, id, signaler.SDP{Type: webrtc.SDPTypeOffer, SDP: offer}))
	try.To(pc.SetRemoteDescription(*answer))
	try.To(WaitDC(ctx, dc))

	try.To(h.track(c))
	c.logger.WithField("addr", c.RemoteAddr()).Info("peer connected")
	return c, nil
}

// Accept answers incoming offers and yields a Conn for each one whose data
// channel opens. The channel is closed when the signaler stops accepting.
func (h *Hub) Accept(ctx context.Context) (<-chan *Conn, error) {
	sessions, err := h.signaler.Accept()
	if err != nil {
		return nil, err
	}
	out := make(chan *Conn)
	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()
		for sess := range sessions {
			wg.Add(1)
			go func(sess signaler.Session) {
				defer wg.Done()
				c, err := h.answer(ctx, sess)
				if err != nil {
					h.logger.WithError(err).WithField("peer", sess.From()).Warn("answer offer")
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					c.Close()
				}
			}(sess)
		}
	}()
	return out, nil
}

func (h *Hub) answer(ctx context.Context, sess signaler.Session) (c *Conn, err error) {
	var (
		pc       *webrtc.PeerConnection
		resolved bool
	)
	defer func() {
		if err == nil {
			return
		}
		if !resolved {
			sess.Reject(err)
		}
		if pc != nil {
			pc.Close()
		}
	}()
	defer err2.Handle(&err)

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	pc = try.To1(h.newPeerConnection())
	c = newConn(sess.From(), pc, h.logger)
	opened := make(chan *webrtc.DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			return
		}
		c.attach(dc)
		select {
		case opened <- dc:
		default:
		}
	})

	try.To(pc.SetRemoteDescription(sess.Description()))
	answer := try.To1(rtcnego.NegotiateContext(ctx, peerconn.Wrap(pc), rtcnego.Answerer))
	try.To(sess.Resolve(&signaler.SDP{Type: webrtc.SDPTypeAnswer, SDP: answer}))
	resolved = true

	var dc *webrtc.DataChannel
	select {
	case dc = <-opened:
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
	try.To(WaitDC(ctx, dc))

	try.To(h.track(c))
	c.logger.WithField("addr", c.RemoteAddr()).Info("peer connected")
	return c, nil
}

func (h *Hub) track(c *Conn) error {
	h.connsL.Lock()
	defer h.connsL.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.conns[c] = struct{}{}
	go func() {
		<-c.Done()
		h.connsL.Lock()
		defer h.connsL.Unlock()
		delete(h.conns, c)
	}()
	return nil
}

// Conns returns the number of live connections.
func (h *Hub) Conns() int {
	h.connsL.Lock()
	defer h.connsL.Unlock()
	return len(h.conns)
}

// Close closes every live connection, the shared mux and the signaler.
func (h *Hub) Close() (err error) {
	defer err2.Handle(&err)

	h.connsL.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.connsL.Unlock()

	for _, c := range conns {
		try.To(c.Close())
	}
	if h.mux != nil {
		try.To(h.mux.Close())
	}
	if h.signaler != nil {
		try.To(h.signaler.Close())
	}
	return
}

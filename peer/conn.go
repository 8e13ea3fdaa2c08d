package peer

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

type Message = webrtc.DataChannelMessage

// Conn is a connected peer with one open data channel.
type Conn struct {
	id     string
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	logger *logrus.Entry

	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, pc *webrtc.PeerConnection, logger *logrus.Entry) *Conn {
	c := &Conn{
		id:     id,
		pc:     pc,
		logger: logger.WithField("peer", id),
		ch:     make(chan Message, 16),
		done:   make(chan struct{}),
	}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.WithField("state", s).Debug("peer connection state changed")
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.shutdown()
		}
	})
	return c
}

func (c *Conn) attach(dc *webrtc.DataChannel) {
	c.dc = dc
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.ch <- msg:
		case <-c.done:
		}
	})
	dc.OnClose(c.shutdown)
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.logger.Info("peer disconnected")
	})
}

// ID is the signaling id of the remote peer.
func (c *Conn) ID() string { return c.id }

// RemoteAddr is the address of the selected remote candidate.
func (c *Conn) RemoteAddr() string { return remoteAddr(c.pc) }

func (c *Conn) Send(data []byte) error { return c.dc.Send(data) }

func (c *Conn) SendText(s string) error { return c.dc.SendText(s) }

// Message returns received messages. It is never closed; select on Done.
func (c *Conn) Message() <-chan Message { return c.ch }

// Done is closed once the data channel or the peer connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() error {
	defer c.shutdown()
	return c.pc.Close()
}

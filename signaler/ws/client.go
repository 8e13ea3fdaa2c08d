package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
	impl "github.com/shynome/rtcnego/signaler"
	"github.com/sirupsen/logrus"
)

// Client is a Channel over a ws relay. Handshakes are keyed by the remote id,
// so only one offer per remote may be outstanding at a time.
type Client struct {
	id     string
	conn   *websocket.Conn
	logger *logrus.Entry

	writeL sync.Mutex

	waitersL sync.Mutex
	waiters  map[string]chan Message

	offers    chan impl.Session
	closed    chan struct{}
	closeOnce sync.Once
}

var _ impl.Channel = (*Client)(nil)

var (
	ErrBusy       = errors.New("a handshake with this peer is already in flight")
	ErrNoIdentity = errors.New("relay did not assign an id")
)

// Dial connects to the relay at url and waits for the id the relay assigns.
func Dial(ctx context.Context, url string, logger *logrus.Entry) (c *Client, err error) {
	var conn *websocket.Conn
	defer func() {
		if err != nil && conn != nil {
			conn.Close()
		}
	}()
	defer err2.Handle(&err)
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	conn, _ = try.To2(websocket.DefaultDialer.DialContext(ctx, url, nil))

	try.To(conn.WriteJSON(Message{Type: TypeGetMyID}))
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var msg Message
	try.To(conn.ReadJSON(&msg))
	if msg.Type != TypeID || msg.ID == "" {
		return nil, ErrNoIdentity
	}
	conn.SetReadDeadline(time.Time{})

	c = &Client{
		id:      msg.ID,
		conn:    conn,
		logger:  logger.WithFields(logrus.Fields{"signaler": "ws", "id": msg.ID}),
		waiters: make(map[string]chan Message),
		offers:  make(chan impl.Session),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) write(msg Message) error {
	c.writeL.Lock()
	defer c.writeL.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(c.offers)
	}()
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.WithError(err).Warn("read")
			}
			c.Close()
			return
		}
		switch msg.Type {
		case TypeOffer:
			sess := &Session{root: c, from: msg.From, offer: impl.SDP{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}}
			wg.Add(1)
			go func() {
				defer wg.Done()
				select {
				case c.offers <- sess:
				case <-c.closed:
				}
			}()
		case TypeAnswer, TypeReject:
			c.waitersL.Lock()
			ch := c.waiters[msg.From]
			delete(c.waiters, msg.From)
			c.waitersL.Unlock()
			if ch == nil {
				c.logger.WithField("from", msg.From).Debug("no handshake waiting for reply")
				continue
			}
			ch <- msg
		default:
			c.logger.WithField("type", msg.Type).Debug("ignoring message")
		}
	}
}

func (c *Client) Handshake(ctx context.Context, endpoint string, offer impl.SDP) (answer *impl.SDP, err error) {
	ch := make(chan Message, 1)
	c.waitersL.Lock()
	if _, ok := c.waiters[endpoint]; ok {
		c.waitersL.Unlock()
		return nil, ErrBusy
	}
	c.waiters[endpoint] = ch
	c.waitersL.Unlock()
	defer func() {
		c.waitersL.Lock()
		if c.waiters[endpoint] == ch {
			delete(c.waiters, endpoint)
		}
		c.waitersL.Unlock()
	}()

	if err = c.write(Message{Type: TypeOffer, To: endpoint, SDP: offer.SDP}); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		if msg.Type == TypeReject {
			if msg.Reason == "" {
				return nil, impl.ErrRejected
			}
			return nil, fmt.Errorf("%w: %s", impl.ErrRejected, msg.Reason)
		}
		return &impl.SDP{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}, nil
	case <-c.closed:
		return nil, impl.ErrClosed
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Accept returns the channel of incoming offers. It is closed once the
// connection to the relay is gone.
func (c *Client) Accept() (<-chan impl.Session, error) {
	return c.offers, nil
}

func (c *Client) Close() (err error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeL.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeL.Unlock()
		err = c.conn.Close()
	})
	return
}

type Session struct {
	root  *Client
	from  string
	offer impl.SDP
}

var _ impl.Session = (*Session)(nil)

func (s *Session) From() string          { return s.from }
func (s *Session) Description() impl.SDP { return s.offer }
func (s *Session) Resolve(answer *impl.SDP) error {
	return s.root.write(Message{Type: TypeAnswer, To: s.from, SDP: answer.SDP})
}
func (s *Session) Reject(err error) {
	msg := Message{Type: TypeReject, To: s.from}
	if err != nil {
		msg.Reason = err.Error()
	}
	if err := s.root.write(msg); err != nil {
		s.root.logger.WithError(err).Debug("reject offer")
	}
}

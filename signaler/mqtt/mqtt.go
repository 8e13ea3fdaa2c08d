// Package mqtt exchanges offers through an MQTT broker. A client listens on
// <prefix>/<id>/offer for offers and on <prefix>/<id>/reply for the answers
// to its own handshakes; replies are matched to handshakes by nonce.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	impl "github.com/shynome/rtcnego/signaler"
	"github.com/sirupsen/logrus"
)

const DefaultPrefix = "rtcnego"

// envelope is published for offers and replies alike.
type envelope struct {
	From   string    `json:"from"`
	Nonce  string    `json:"nonce"`
	SDP    *impl.SDP `json:"sdp,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

func offerTopic(prefix, id string) string { return fmt.Sprintf("%s/%s/offer", prefix, id) }
func replyTopic(prefix, id string) string { return fmt.Sprintf("%s/%s/reply", prefix, id) }

type Config struct {
	Broker string
	Prefix string
	// Timeout bounds broker operations.
	Timeout time.Duration
}

type Client struct {
	id      string
	prefix  string
	timeout time.Duration
	mq      MQTT.Client
	logger  *logrus.Entry

	waitersL sync.Mutex
	waiters  map[string]chan envelope

	acceptL sync.Mutex
	offersL sync.RWMutex
	offers  chan impl.Session
	closed  chan struct{}
	once    sync.Once
}

var _ impl.Channel = (*Client)(nil)

var ErrBrokerTimeout = errors.New("mqtt broker did not respond in time")

// Dial connects to the broker as id and subscribes to its reply topic.
func Dial(id string, cfg Config, logger *logrus.Entry) (c *Client, err error) {
	var mq MQTT.Client
	defer func() {
		if err != nil && mq != nil {
			mq.Disconnect(250)
			c = nil
		}
	}()
	defer err2.Handle(&err)
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.ClientID = id + "-" + uuid.NewString()[:8]
	mq = MQTT.NewClient(opts)

	c = &Client{
		id:      id,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
		mq:      mq,
		logger:  logger.WithFields(logrus.Fields{"signaler": "mqtt", "id": id}),
		waiters: make(map[string]chan envelope),
		closed:  make(chan struct{}),
	}
	try.To(c.wait(c.mq.Connect()))
	try.To(c.wait(c.mq.Subscribe(replyTopic(c.prefix, id), 1, c.onReply)))
	return c, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) wait(token MQTT.Token) error {
	if !token.WaitTimeout(c.timeout) {
		return ErrBrokerTimeout
	}
	return token.Error()
}

func (c *Client) publish(topic string, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.wait(c.mq.Publish(topic, 1, false, payload))
}

func (c *Client) onReply(_ MQTT.Client, msg MQTT.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		c.logger.WithError(err).Warn("dropping malformed reply")
		return
	}
	c.waitersL.Lock()
	ch := c.waiters[env.Nonce]
	delete(c.waiters, env.Nonce)
	c.waitersL.Unlock()
	if ch == nil {
		c.logger.WithField("nonce", env.Nonce).Debug("no handshake waiting for reply")
		return
	}
	ch <- env
}

func (c *Client) Handshake(ctx context.Context, endpoint string, offer impl.SDP) (answer *impl.SDP, err error) {
	nonce := uuid.NewString()
	ch := make(chan envelope, 1)
	c.waitersL.Lock()
	c.waiters[nonce] = ch
	c.waitersL.Unlock()
	defer func() {
		c.waitersL.Lock()
		delete(c.waiters, nonce)
		c.waitersL.Unlock()
	}()

	if err = c.publish(offerTopic(c.prefix, endpoint), envelope{From: c.id, Nonce: nonce, SDP: &offer}); err != nil {
		return nil, err
	}
	select {
	case env := <-ch:
		return replyAnswer(env)
	case <-c.closed:
		return nil, impl.ErrClosed
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func replyAnswer(env envelope) (*impl.SDP, error) {
	if env.Reason != "" {
		return nil, fmt.Errorf("%w: %s", impl.ErrRejected, env.Reason)
	}
	if env.SDP == nil {
		return nil, impl.ErrRejected
	}
	return env.SDP, nil
}

// Accept subscribes to the offer topic. Calling it again returns the same
// channel.
func (c *Client) Accept() (ch <-chan impl.Session, err error) {
	c.acceptL.Lock()
	defer c.acceptL.Unlock()
	if c.offers != nil {
		return c.offers, nil
	}
	select {
	case <-c.closed:
		return nil, impl.ErrClosed
	default:
	}
	offers := make(chan impl.Session)
	c.offersL.Lock()
	c.offers = offers
	c.offersL.Unlock()
	if err = c.wait(c.mq.Subscribe(offerTopic(c.prefix, c.id), 1, c.onOffer)); err != nil {
		c.offersL.Lock()
		c.offers = nil
		c.offersL.Unlock()
		return nil, err
	}
	return offers, nil
}

func (c *Client) onOffer(_ MQTT.Client, msg MQTT.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil || env.SDP == nil {
		c.logger.WithField("topic", msg.Topic()).Warn("dropping malformed offer")
		return
	}
	sess := &Session{root: c, env: env}
	// paho runs handlers in order on one goroutine; do not hold it up
	go func() {
		c.offersL.RLock()
		defer c.offersL.RUnlock()
		select {
		case <-c.closed:
			return
		default:
		}
		select {
		case c.offers <- sess:
		case <-c.closed:
		}
	}()
}

func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.offersL.Lock()
		if c.offers != nil {
			close(c.offers)
		}
		c.offersL.Unlock()
		c.mq.Disconnect(250)
	})
	return nil
}

type Session struct {
	root *Client
	env  envelope
}

var _ impl.Session = (*Session)(nil)

func (s *Session) From() string          { return s.env.From }
func (s *Session) Description() impl.SDP { return *s.env.SDP }
func (s *Session) Resolve(answer *impl.SDP) error {
	return s.root.publish(replyTopic(s.root.prefix, s.env.From), envelope{From: s.root.id, Nonce: s.env.Nonce, SDP: answer})
}
func (s *Session) Reject(err error) {
	if err == nil {
		err = impl.ErrRejected
	}
	env := envelope{From: s.root.id, Nonce: s.env.Nonce, Reason: err.Error()}
	if err := s.root.publish(replyTopic(s.root.prefix, s.env.From), env); err != nil {
		s.root.logger.WithError(err).Debug("reject offer")
	}
}

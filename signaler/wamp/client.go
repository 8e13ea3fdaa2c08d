package wamp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	impl "github.com/shynome/rtcnego/signaler"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Realm string
	// ResponseTimeout bounds both the wait of an offer in the Accept channel
	// and the wait for its answer.
	ResponseTimeout time.Duration
	TLS             *tls.Config
}

// Client is a Channel over a WAMP router.
type Client struct {
	id      string
	client  *client.Client
	timeout time.Duration
	logger  *logrus.Entry

	acceptL   sync.Mutex
	consumerL sync.RWMutex
	consumer  chan impl.Session
	closed    chan struct{}
	once      sync.Once
}

var _ impl.Channel = (*Client)(nil)

// Dial joins the realm of the router at url as id.
func Dial(ctx context.Context, url, id string, cfg Config, logger *logrus.Entry) (c *Client, err error) {
	defer err2.Handle(&err)
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithFields(logrus.Fields{"signaler": "wamp", "id": id})
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	cli := try.To1(client.ConnectNet(ctx, url, client.Config{
		Realm:           cfg.Realm,
		ResponseTimeout: cfg.ResponseTimeout,
		Logger:          logger,
		TlsCfg:          cfg.TLS,
	}))
	return &Client{
		id:      id,
		client:  cli,
		timeout: cfg.ResponseTimeout,
		logger:  logger,
		closed:  make(chan struct{}),
	}, nil
}

func (c *Client) ID() string { return c.id }

// Accept registers the procedure named after the client id. Calling it again
// returns the same channel.
func (c *Client) Accept() (ch <-chan impl.Session, err error) {
	c.acceptL.Lock()
	defer c.acceptL.Unlock()
	if c.consumer != nil {
		return c.consumer, nil
	}
	select {
	case <-c.closed:
		return nil, impl.ErrClosed
	default:
	}
	consumer := make(chan impl.Session)
	c.consumerL.Lock()
	c.consumer = consumer
	c.consumerL.Unlock()
	if err = c.client.Register(c.id, c.callHandler, nil); err != nil {
		c.logger.WithError(err).Error("failed to register procedure")
		c.consumerL.Lock()
		c.consumer = nil
		c.consumerL.Unlock()
		return nil, err
	}
	c.logger.Debug("registered procedure with router")
	go func() {
		<-c.closed
		// handlers send under the read lock and give up once closed is closed
		c.consumerL.Lock()
		defer c.consumerL.Unlock()
		close(consumer)
	}()
	return consumer, nil
}

func (c *Client) Handshake(ctx context.Context, endpoint string, offer impl.SDP) (answer *impl.SDP, err error) {
	defer err2.Handle(&err)
	raw := try.To1(json.Marshal(offer))
	args := wamp.List{c.id, string(raw)}

	result, err := c.client.Call(ctx, endpoint, nil, args, nil, nil)
	if err != nil {
		if strings.Contains(err.Error(), ErrOfferRejected) {
			return nil, fmt.Errorf("%w: %w", impl.ErrRejected, err)
		}
		return nil, err
	}
	if len(result.Arguments) == 0 {
		return nil, fmt.Errorf("empty result from %s", endpoint)
	}
	sdp, ok := wamp.AsString(result.Arguments[0])
	if !ok {
		return nil, fmt.Errorf("unexpected result from %s", endpoint)
	}
	try.To(json.Unmarshal([]byte(sdp), &answer))
	return answer, nil
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.closed) })
	c.acceptL.Lock()
	c.consumerL.RLock()
	registered := c.consumer != nil
	c.consumerL.RUnlock()
	c.acceptL.Unlock()
	if registered {
		c.client.Unregister(c.id)
	}
	return c.client.Close()
}

type result struct {
	answer *impl.SDP
	err    error
}

func (c *Client) callHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 2 {
		return errResult(ErrProcessingOffer,
			fmt.Sprintf("invocation should contain 2 arguments, not %d", len(inv.Arguments)))
	}
	from, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return errResult(ErrProcessingOffer, "error reading invocation first argument")
	}
	sdp, ok := wamp.AsString(inv.Arguments[1])
	if !ok {
		return errResult(ErrProcessingOffer, "error reading invocation second argument")
	}
	var offer impl.SDP
	if err := json.Unmarshal([]byte(sdp), &offer); err != nil {
		return errResult(ErrProcessingOffer, fmt.Sprintf("error parsing invocation SDP: %v", err))
	}

	sess := &Session{from: from, offer: offer, result: make(chan result, 1)}
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	if res, ok := c.deliver(ctx, timer.C, sess); !ok {
		return res
	}

	select {
	case r := <-sess.result:
		if r.err != nil {
			return errResult(ErrOfferRejected, r.err.Error())
		}
		raw, err := json.Marshal(r.answer)
		if err != nil {
			return errResult(ErrProcessingOffer, fmt.Sprintf("error encoding answer: %v", err))
		}
		return client.InvokeResult{Args: wamp.List{string(raw)}}
	case <-ctx.Done():
		return errResult(ErrProcessingOffer, "call canceled")
	case <-timer.C:
		return errResult(ErrProcessingOffer, "callee timeout")
	}
}

func (c *Client) deliver(ctx context.Context, timeout <-chan time.Time, sess *Session) (client.InvokeResult, bool) {
	c.consumerL.RLock()
	defer c.consumerL.RUnlock()
	select {
	case <-c.closed:
		return errResult(ErrProcessingOffer, "callee closed"), false
	default:
	}
	select {
	case c.consumer <- sess:
		return client.InvokeResult{}, true
	case <-c.closed:
		return errResult(ErrProcessingOffer, "callee closed"), false
	case <-ctx.Done():
		return errResult(ErrProcessingOffer, "call canceled"), false
	case <-timeout:
		return errResult(ErrProcessingOffer, "callee timeout"), false
	}
}

func errResult(uri, msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  wamp.URI(uri),
		Args: wamp.List{msg},
	}
}

type Session struct {
	from   string
	offer  impl.SDP
	result chan result
}

var _ impl.Session = (*Session)(nil)

func (s *Session) From() string          { return s.from }
func (s *Session) Description() impl.SDP { return s.offer }
func (s *Session) Resolve(answer *impl.SDP) error {
	select {
	case s.result <- result{answer: answer}:
		return nil
	default:
		return fmt.Errorf("session already settled")
	}
}
func (s *Session) Reject(err error) {
	if err == nil {
		err = impl.ErrRejected
	}
	select {
	case s.result <- result{err: err}:
	default:
	}
}

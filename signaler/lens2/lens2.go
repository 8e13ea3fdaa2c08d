// Package lens2 exchanges offers through an HTTP relay: offers are POSTed to
// the relay, delivered to the receiver as server-sent events, and answered
// with a DELETE carrying the event id.
package lens2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/donovanhide/eventsource"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	impl "github.com/shynome/rtcnego/signaler"
	"github.com/sirupsen/logrus"
)

const (
	headerEventID    = "X-Event-Id"
	headerEventError = "X-Event-Error"
	headerFrom       = "X-From"
)

// envelope is the event payload delivered to the receiver.
type envelope struct {
	From string `json:"from"`
	impl.SDP
}

type Signaler struct {
	id       string
	signaler *signaler
	logger   *logrus.Entry

	acceptL          sync.Mutex
	connectionStream *eventsource.Stream
	offers           <-chan impl.Session
	closed           bool

	seenL     sync.Mutex
	seen      map[string]bool
	seenOrder []string
}

// maxSeen bounds the event ids remembered for replay detection.
const maxSeen = 1024

var _ impl.Channel = (*Signaler)(nil)

func NewSignaler(id string, endpoint string, logger *logrus.Entry) (s *Signaler, err error) {
	defer err2.Handle(&err)
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Signaler{
		id:       id,
		signaler: try.To1(newSignaler(endpoint)),
		logger:   logger.WithField("signaler", "lens2"),
		seen:     make(map[string]bool),
	}, nil
}

func (b *Signaler) ID() string { return b.id }

func (b *Signaler) Handshake(ctx context.Context, endpoint string, offer impl.SDP) (answer *impl.SDP, err error) {
	defer err2.Handle(&err)

	body := try.To1(json.Marshal(offer))
	req := try.To1(b.signaler.newReq(ctx, http.MethodPost, endpoint, bytes.NewReader(body)))
	req.Header.Set(headerFrom, b.id)
	res := try.To1(b.signaler.doReq(req))
	defer res.Body.Close()

	try.To(json.NewDecoder(res.Body).Decode(&answer))
	if answer == nil {
		return nil, ErrNoAnswer
	}

	return
}

// Accept subscribes to the relay. Calling it again returns the same channel.
func (b *Signaler) Accept() (ch <-chan impl.Session, err error) {
	defer err2.Handle(&err)
	b.acceptL.Lock()
	defer b.acceptL.Unlock()
	if b.closed {
		return nil, impl.ErrClosed
	}
	if b.offers != nil {
		return b.offers, nil
	}
	offerCh := make(chan impl.Session)
	req := try.To1(b.signaler.newReq(context.Background(), http.MethodGet, b.id, http.NoBody))
	stream := try.To1(eventsource.SubscribeWithRequest("", req))
	b.connectionStream, b.offers = stream, offerCh
	go func() {
		for err := range stream.Errors {
			b.logger.WithError(err).Debug("event stream error")
		}
	}()
	go func() {
		defer close(offerCh)
		var wg sync.WaitGroup
		defer wg.Wait()
		for ev := range stream.Events {
			sess := b.newSession(ev)
			if sess == nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				offerCh <- sess
			}()
		}
	}()
	return offerCh, nil
}

func (s *Signaler) Close() (err error) {
	s.acceptL.Lock()
	defer s.acceptL.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if stream := s.connectionStream; stream != nil {
		stream.Close()
	}
	return
}

type Session struct {
	root  *Signaler
	ev    eventsource.Event
	from  string
	offer impl.SDP
}

var _ impl.Session = (*Session)(nil)

// newSession drops malformed events and events replayed after a reconnect.
func (s *Signaler) newSession(ev eventsource.Event) *Session {
	s.seenL.Lock()
	defer s.seenL.Unlock()
	if s.seen[ev.Id()] {
		return nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(ev.Data()), &env); err != nil {
		s.logger.WithError(err).Warn("dropping malformed offer event")
		return nil
	}
	s.remember(ev.Id())
	return &Session{
		root:  s,
		ev:    ev,
		from:  env.From,
		offer: env.SDP,
	}
}

// remember records id, forgetting the oldest id once maxSeen is reached.
// Callers hold seenL.
func (s *Signaler) remember(id string) {
	if len(s.seenOrder) >= maxSeen {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
	s.seen[id] = true
	s.seenOrder = append(s.seenOrder, id)
}

func (s *Session) From() string                  { return s.from }
func (s *Session) Description() (offer impl.SDP) { return s.offer }
func (s *Session) Resolve(answer *impl.SDP) (err error) {
	defer err2.Handle(&err)
	body := try.To1(json.Marshal(answer))
	return s.reply(bytes.NewReader(body), "")
}
func (s *Session) Reject(err error) {
	if err == nil {
		err = impl.ErrRejected
	}
	if err := s.reply(http.NoBody, err.Error()); err != nil {
		s.root.logger.WithError(err).Debug("reject offer")
	}
}

func (s *Session) reply(body io.Reader, reason string) (err error) {
	defer err2.Handle(&err)
	b := s.root
	req := try.To1(b.signaler.newReq(context.Background(), http.MethodDelete, b.id, body))
	req.Header.Set(headerEventID, s.ev.Id())
	if reason != "" {
		req.Header.Set(headerEventError, reason)
	}
	res := try.To1(b.signaler.doReq(req))
	res.Body.Close()
	return
}

var ErrNoAnswer = errors.New("relay returned no answer")

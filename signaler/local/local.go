// Package local connects signalers living in the same process, mostly for
// tests.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shynome/rtcnego/signaler"
)

type Server struct {
	id  string
	hub *Hub

	chL       sync.RWMutex
	ch        chan signaler.Session
	closed    chan struct{}
	closeOnce sync.Once

	// Timeout bounds a handshake when the caller context has no deadline.
	Timeout time.Duration
}

func NewServer() *Server {
	return &Server{
		closed:  make(chan struct{}),
		Timeout: 5 * time.Second,
	}
}

var _ signaler.Channel = (*Server)(nil)

func (s *Server) ID() string { return s.id }

func (s *Server) Handshake(ctx context.Context, endpoint string, offer signaler.SDP) (answer *signaler.SDP, err error) {
	if s.hub == nil {
		return nil, fmt.Errorf("server need register to a local hub")
	}
	remote := s.hub.Find(endpoint)
	if remote == nil {
		return nil, fmt.Errorf("server is not found. ep: %s", endpoint)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	session := NewSession(ctx, s.id, offer)
	if err = remote.deliver(ctx, session); err != nil {
		return nil, err
	}
	return session.Result()
}

func (s *Server) deliver(ctx context.Context, session *Session) error {
	// hold the read lock while sending so Close cannot close ch under us;
	// Close signals s.closed before it takes the write lock
	s.chL.RLock()
	defer s.chL.RUnlock()
	ch := s.ch
	if ch == nil {
		return fmt.Errorf("server is not ready accept")
	}
	select {
	case ch <- session:
		return nil
	case <-s.closed:
		return signaler.ErrClosed
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

type Session struct {
	context.Context
	reject context.CancelCauseFunc

	from  string
	offer signaler.SDP

	answer *signaler.SDP
}

var _ signaler.Session = (*Session)(nil)

func NewSession(ctx context.Context, from string, sdp signaler.SDP) *Session {
	ctx, reject := context.WithCancelCause(ctx)
	return &Session{
		Context: ctx,
		reject:  reject,

		from:  from,
		offer: sdp,
	}
}

func (sess *Session) From() string              { return sess.from }
func (sess *Session) Description() signaler.SDP { return sess.offer }
func (sess *Session) Reject(err error) {
	if err == nil {
		sess.reject(signaler.ErrRejected)
		return
	}
	sess.reject(fmt.Errorf("%w: %w", signaler.ErrRejected, err))
}
func (sess *Session) Resolve(answer *signaler.SDP) (err error) {
	defer sess.reject(nil)
	sess.answer = answer
	return
}
func (sess *Session) Result() (answer *signaler.SDP, err error) {
	<-sess.Done()
	switch err = context.Cause(sess); err {
	case context.Canceled:
		return sess.answer, nil
	}
	return
}

func (s *Server) Accept() (ch <-chan signaler.Session, err error) {
	s.chL.Lock()
	defer s.chL.Unlock()
	select {
	case <-s.closed:
		return nil, signaler.ErrClosed
	default:
	}
	if s.ch == nil {
		s.ch = make(chan signaler.Session)
	}
	return s.ch, nil
}

func (s *Server) Close() (err error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.hub != nil {
			s.hub.Unregister(s.id)
		}
		s.chL.Lock()
		defer s.chL.Unlock()
		if ch := s.ch; ch != nil {
			s.ch = nil
			close(ch)
		}
	})
	return
}

type Hub struct {
	pool  map[string]*Server
	poolL *sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		pool:  make(map[string]*Server),
		poolL: &sync.RWMutex{},
	}
}

func (hub *Hub) Register(endpoint string, server *Server) {
	if endpoint == "" || server == nil {
		return
	}
	hub.poolL.Lock()
	defer hub.poolL.Unlock()
	server.hub = hub
	server.id = endpoint
	hub.pool[endpoint] = server
}

// Join registers server under a random id and returns it.
func (hub *Hub) Join(server *Server) string {
	id := uuid.NewString()
	hub.Register(id, server)
	return id
}

func (hub *Hub) Unregister(endpoint string) {
	hub.poolL.Lock()
	defer hub.poolL.Unlock()
	delete(hub.pool, endpoint)
}

func (hub *Hub) Find(endpoint string) *Server {
	hub.poolL.RLock()
	defer hub.poolL.RUnlock()
	server, ok := hub.pool[endpoint]
	if ok {
		return server
	}
	return nil
}

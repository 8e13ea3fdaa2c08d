package wamp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Server is a WAMP router relaying calls between clients of one realm.
type Server struct {
	router router.Router
	wss    *router.WebsocketServer
	logger *logrus.Entry

	httpL      sync.Mutex
	httpServer *http.Server
	shutdown   bool
}

var _ http.Handler = (*Server)(nil)

func NewServer(realm string, logger *logrus.Entry) (*Server, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("server", "wamp")
	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}
	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		router: nxr,
		wss:    router.NewWebsocketServer(nxr),
		logger: logger,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.wss.ServeHTTP(w, r)
}

// ListenAndServe serves the router on address. Plain websockets are used
// unless both certFile and keyFile are set.
func (s *Server) ListenAndServe(address, certFile, keyFile string) error {
	srv := &http.Server{
		Handler: s,
		Addr:    address,
	}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("error loading X509 key pair: %w", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	s.httpL.Lock()
	if s.shutdown {
		s.httpL.Unlock()
		return nil
	}
	s.httpServer = srv
	s.httpL.Unlock()

	var err error
	if srv.TLSConfig != nil {
		s.logger.WithField("addr", address).Info("serving wss")
		err = srv.ListenAndServeTLS("", "")
	} else {
		s.logger.WithField("addr", address).Info("serving ws")
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("serve")
		return err
	}
	return nil
}

// Shutdown stops the http server, if any, and the router. A later
// ListenAndServe returns at once.
func (s *Server) Shutdown() {
	s.httpL.Lock()
	if s.shutdown {
		s.httpL.Unlock()
		return
	}
	s.shutdown = true
	srv := s.httpServer
	s.httpL.Unlock()

	defer s.router.Close()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("shutting down http server")
	}
}

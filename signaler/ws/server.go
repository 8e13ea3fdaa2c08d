package ws

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Server struct {
	logger     *logrus.Entry
	MaxMsgSize int64

	socketsL sync.RWMutex
	sockets  map[string]*socket
}

type socket struct {
	l    sync.Mutex
	conn *websocket.Conn
}

func (s *socket) write(msg Message) error {
	s.l.Lock()
	defer s.l.Unlock()
	return s.conn.WriteJSON(msg)
}

var _ http.Handler = (*Server)(nil)

func NewServer(logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		logger:     logger.WithField("server", "ws"),
		MaxMsgSize: 1 << 20,
		sockets:    make(map[string]*socket),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("upgrade")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.MaxMsgSize)

	id := uuid.NewString()
	sock := &socket{conn: conn}
	s.socketsL.Lock()
	s.sockets[id] = sock
	s.socketsL.Unlock()
	defer func() {
		s.socketsL.Lock()
		delete(s.sockets, id)
		s.socketsL.Unlock()
	}()

	logger := s.logger.WithFields(logrus.Fields{"id": id, "remote": conn.RemoteAddr()})
	logger.Info("new connection")

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("read")
			}
			logger.Info("connection closed")
			return
		}
		s.handle(logger, id, sock, msg)
	}
}

func (s *Server) handle(logger *logrus.Entry, id string, sock *socket, msg Message) {
	switch msg.Type {
	case TypeGetMyID:
		if err := sock.write(Message{Type: TypeID, ID: id}); err != nil {
			logger.WithError(err).Warn("write id")
		}
	case TypeOffer, TypeAnswer, TypeReject:
		msg.From = id
		s.forward(logger, msg)
	default:
		logger.WithField("type", msg.Type).Debug("ignoring message")
	}
}

func (s *Server) forward(logger *logrus.Entry, msg Message) {
	s.socketsL.RLock()
	dst, ok := s.sockets[msg.To]
	s.socketsL.RUnlock()
	if !ok {
		logger.WithField("to", msg.To).Warn("receiver not found")
		return
	}
	if err := dst.write(msg); err != nil {
		logger.WithError(err).WithField("to", msg.To).Warn("forward")
		return
	}
	logger.WithFields(logrus.Fields{"type": msg.Type, "to": msg.To}).Debug("forwarded")
}

// Peers returns the number of connected sockets.
func (s *Server) Peers() int {
	s.socketsL.RLock()
	defer s.socketsL.RUnlock()
	return len(s.sockets)
}

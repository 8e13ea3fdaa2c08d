package lens2

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/donovanhide/eventsource"
	"github.com/google/uuid"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	impl "github.com/shynome/rtcnego/signaler"
	"github.com/sirupsen/logrus"
)

// Server is the relay side of the lens2 protocol. Offers stay pending until
// the receiver answers, rejects, or the offering request gives up; pending
// offers are replayed to receivers that subscribe late.
type Server struct {
	es     *eventsource.Server
	logger *logrus.Entry

	Timeout    time.Duration
	MaxMsgSize int64
	User       string
	Password   string

	pendingL   sync.Mutex
	pending    map[string]map[string]*pendingOffer
	registered map[string]bool
	seq        uint64
}

type pendingOffer struct {
	seq    uint64
	event  offerEvent
	result chan reply
}

type reply struct {
	answer []byte
	reason string
}

type offerEvent struct {
	id   string
	data string
}

func (e offerEvent) Id() string    { return e.id }
func (e offerEvent) Event() string { return "offer" }
func (e offerEvent) Data() string  { return e.data }

var (
	_ http.Handler           = (*Server)(nil)
	_ eventsource.Repository = (*Server)(nil)
)

func NewServer(logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	es := eventsource.NewServer()
	es.ReplayAll = true
	return &Server{
		es:         es,
		logger:     logger.WithField("server", "lens2"),
		Timeout:    30 * time.Second,
		MaxMsgSize: 1 << 20,
		pending:    make(map[string]map[string]*pendingOffer),
		registered: make(map[string]bool),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.User != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.User || pass != s.Password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	topic := r.URL.Query().Get("t")
	if topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.register(topic)
		s.logger.WithField("topic", topic).Debug("receiver subscribed")
		s.es.Handler(topic).ServeHTTP(w, r)
	case http.MethodPost:
		s.handleOffer(w, r, topic)
	case http.MethodDelete:
		s.handleReply(w, r, topic)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request, topic string) {
	defer err2.Catch(func(err error) {
		s.logger.WithError(err).Warn("bad offer")
		http.Error(w, err.Error(), http.StatusBadRequest)
	})

	body := try.To1(io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxMsgSize)))
	var sdp impl.SDP
	try.To(json.Unmarshal(body, &sdp))
	data := try.To1(json.Marshal(envelope{From: r.Header.Get(headerFrom), SDP: sdp}))

	offer := s.add(topic, string(data))
	defer s.remove(topic, offer.event.id)

	s.register(topic)
	s.es.Publish([]string{topic}, offer.event)
	s.logger.WithFields(logrus.Fields{"topic": topic, "id": offer.event.id}).Debug("offer published")

	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()
	select {
	case rep := <-offer.result:
		if rep.reason != "" {
			http.Error(w, rep.reason, http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(rep.answer)
	case <-timer.C:
		http.Error(w, "no answer from receiver", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request, topic string) {
	id := r.Header.Get(headerEventID)
	s.pendingL.Lock()
	offer := s.pending[topic][id]
	s.pendingL.Unlock()
	if offer == nil {
		http.Error(w, "offer not found", http.StatusNotFound)
		return
	}

	rep := reply{reason: r.Header.Get(headerEventError)}
	if rep.reason == "" {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxMsgSize))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rep.answer = body
	}
	select {
	case offer.result <- rep:
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "offer already answered", http.StatusConflict)
	}
}

func (s *Server) add(topic, data string) *pendingOffer {
	s.pendingL.Lock()
	defer s.pendingL.Unlock()
	s.seq++
	offer := &pendingOffer{
		seq:    s.seq,
		event:  offerEvent{id: uuid.NewString(), data: data},
		result: make(chan reply, 1),
	}
	if s.pending[topic] == nil {
		s.pending[topic] = make(map[string]*pendingOffer)
	}
	s.pending[topic][offer.event.id] = offer
	return offer
}

func (s *Server) remove(topic, id string) {
	s.pendingL.Lock()
	defer s.pendingL.Unlock()
	delete(s.pending[topic], id)
	if len(s.pending[topic]) == 0 {
		delete(s.pending, topic)
	}
}

func (s *Server) register(topic string) {
	s.pendingL.Lock()
	done := s.registered[topic]
	s.registered[topic] = true
	s.pendingL.Unlock()
	if !done {
		s.es.Register(topic, s)
	}
}

// Replay implements eventsource.Repository with the offers still pending on
// channel, oldest first.
func (s *Server) Replay(channel, id string) chan eventsource.Event {
	s.pendingL.Lock()
	offers := make([]*pendingOffer, 0, len(s.pending[channel]))
	for _, o := range s.pending[channel] {
		offers = append(offers, o)
	}
	s.pendingL.Unlock()
	sort.Slice(offers, func(i, j int) bool { return offers[i].seq < offers[j].seq })

	out := make(chan eventsource.Event)
	go func() {
		defer close(out)
		for _, o := range offers {
			out <- o.event
		}
	}()
	return out
}

func (s *Server) Close() {
	s.es.Close()
}

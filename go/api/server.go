package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quill_ws_connections_active",
		Help: "Live websocket connections.",
	})
	connsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_connections_total",
		Help: "Accepted API connections.",
	}, []string{"kind"})
)

// Server is the RPC endpoint: Post envelopes and websocket upgrades
// under one API prefix, everything else a 404.
type Server struct {
	dispatcher *Dispatcher
	prefix     string
	admit      func() (bool, string)
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*WsConnection]struct{}
}

// NewServer builds the API server. admit gates new connections (the
// traffic signal, wired by the application); nil admits everything.
func NewServer(dispatcher *Dispatcher, prefix string, admit func() (bool, string)) *Server {
	if prefix == "" {
		prefix = "/api"
	}
	if admit == nil {
		admit = func() (bool, string) { return true, "" }
	}
	return &Server{
		dispatcher: dispatcher,
		prefix:     strings.TrimSuffix(prefix, "/"),
		admit:      admit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 14,
			WriteBufferSize: 1 << 14,
		},
		conns: make(map[*WsConnection]struct{}),
	}
}

// Router mounts the API surface. Websocket upgrades are accepted only
// under the API prefix; upgrades anywhere else are 404s.
func (s *Server) Router() *mux.Router {
	var r = mux.NewRouter()
	var api = r.PathPrefix(s.prefix).Subrouter()
	api.Methods(http.MethodPost).HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		connsTotal.WithLabelValues("post").Inc()
		s.servePost(w, req)
	})
	api.Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !websocket.IsWebSocketUpgrade(req) {
			http.Error(w, "expected a websocket upgrade", http.StatusBadRequest)
			return
		}
		connsTotal.WithLabelValues("ws").Inc()
		s.serveWs(w, req)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	})
	return r
}

// ConnCount of live websocket connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseAll asks every live websocket connection to close. The
// shutdown drain calls this repeatedly until ConnCount reaches zero.
func (s *Server) CloseAll() {
	s.mu.Lock()
	var conns = make([]*WsConnection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) track(c *WsConnection) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	wsConnsActive.Inc()
}

func (s *Server) untrack(c *WsConnection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	wsConnsActive.Dec()
}

func closeDeadline() time.Time { return time.Now().Add(time.Second) }

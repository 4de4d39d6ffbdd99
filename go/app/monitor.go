package app

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Monitor is the operational HTTP surface, served apart from the API
// so probes and scrapes keep working while the API sheds load.
type Monitor struct {
	signal  *TrafficSignal
	load    *LoadFactor
	healthy func() bool
	vars    func() map[string]any
	mode    string
	dev     bool
	boot    time.Time
}

// NewMonitor builds the monitor surface. vars supplies the assorted
// state reported by /var; healthy gates /health.
func NewMonitor(signal *TrafficSignal, load *LoadFactor, healthy func() bool, vars func() map[string]any, mode string, dev bool) *Monitor {
	return &Monitor{
		signal:  signal,
		load:    load,
		healthy: healthy,
		vars:    vars,
		mode:    mode,
		dev:     dev,
		boot:    time.Now(),
	}
}

// Router mounts the monitor endpoints. Dev mode adds /debug/pprof.
func (m *Monitor) Router() *mux.Router {
	var r = mux.NewRouter()
	r.Use(requestLogger)

	r.HandleFunc("/health", m.serveHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", m.serveInfo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/load-factor", m.serveLoadFactor).Methods(http.MethodGet)
	r.HandleFunc("/traffic-signal", m.serveTrafficSignal).Methods(http.MethodGet)
	r.HandleFunc("/var", m.serveVar).Methods(http.MethodGet)

	if m.dev {
		r.PathPrefix("/debug/pprof/cmdline").HandlerFunc(pprof.Cmdline)
		r.PathPrefix("/debug/pprof/profile").HandlerFunc(pprof.Profile)
		r.PathPrefix("/debug/pprof/symbol").HandlerFunc(pprof.Symbol)
		r.PathPrefix("/debug/pprof/trace").HandlerFunc(pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}
	return r
}

func (m *Monitor) serveHealth(w http.ResponseWriter, r *http.Request) {
	if !m.healthy() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}

func (m *Monitor) serveInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"boot": m.boot.UTC().Format(time.RFC3339),
		"build": map[string]any{
			"go": runtime.Version(),
		},
		"runtime": map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"mode":       m.mode,
		},
	})
}

func (m *Monitor) serveLoadFactor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"heavy": HeavyLoadValue,
		"value": m.load.Value(r.Context()),
	})
}

func (m *Monitor) serveTrafficSignal(w http.ResponseWriter, r *http.Request) {
	var allow, reason = m.signal.ShouldAllowTraffic()
	if !allow {
		http.Error(w, reason, http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte(reason + "\n"))
}

func (m *Monitor) serveVar(w http.ResponseWriter, r *http.Request) {
	var vars = m.vars()
	vars["mode"] = m.mode
	vars["uptimeSec"] = int(time.Since(m.boot).Seconds())
	vars["trafficSignal"] = m.signal.snapshot()
	writeJSON(w, vars)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Warn("failed to write monitor response")
	}
}

// requestLogger logs each monitor request with its final status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var recorder = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		var begun = time.Now()
		next.ServeHTTP(recorder, r)
		log.WithFields(log.Fields{
			"path":   r.URL.Path,
			"status": recorder.status,
			"tookMs": time.Since(begun).Milliseconds(),
		}).Debug("monitor request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

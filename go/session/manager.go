package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/marginalia/quill/go/doc"
	"github.com/marginalia/quill/go/ot"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quill_sessions_active",
		Help: "Live editing sessions.",
	})
	sessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quill_sessions_swept_total",
		Help: "Sessions ended by the idle sweep.",
	})
)

// caretPalette is cycled through as sessions are minted, so concurrent
// editors on a document get distinct colors until it wraps.
var caretPalette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// Config tunes the session manager.
type Config struct {
	// IdleTimeout ends sessions with no inbound call for this long.
	IdleTimeout time.Duration
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig is the stock session configuration.
var DefaultConfig = Config{
	IdleTimeout:   20 * time.Minute,
	SweepInterval: time.Minute,
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultConfig.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultConfig.SweepInterval
	}
	return c
}

// Manager owns the live sessions of this process: it mints them,
// rebinds to them, tracks their activity, and sweeps the idle ones.
type Manager struct {
	registry *doc.Registry
	cfg      Config

	mu        sync.Mutex
	sessions  map[ot.SessionID]*Session
	active    map[ot.SessionID]ot.Timestamp
	nextColor int
}

// NewManager builds a session manager over registry.
func NewManager(registry *doc.Registry, cfg Config) *Manager {
	return &Manager{
		registry: registry,
		cfg:      cfg.withDefaults(),
		sessions: make(map[ot.SessionID]*Session),
		active:   make(map[ot.SessionID]ot.Timestamp),
	}
}

// Count of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// mint creates a session for author on docID: it registers the handle
// and begins the session's caret at the document's current body
// revision.
func (m *Manager) mint(ctx context.Context, author ot.AuthorID, docID ot.DocumentID) (*Session, error) {
	var d, err = m.registry.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	bodyRev, err := d.Body().CurrentRevNum(ctx)
	if err != nil {
		return nil, err
	}

	var s = &Session{
		mgr:    m,
		id:     ot.SessionID(uuid.NewString()),
		author: author,
		doc:    d,
	}

	caret, err := ot.NewCaret(s.id)
	if err != nil {
		return nil, err
	}
	if caret, err = caret.WithField(ot.CaretColor, m.pickColor()); err != nil {
		return nil, err
	}
	if caret, err = caret.WithField(ot.CaretRevNum, bodyRev); err != nil {
		return nil, err
	}
	if caret, err = caret.WithField(ot.CaretLastActive, ot.Now()); err != nil {
		return nil, err
	}
	begin, err := ot.NewBeginSessionOp(caret)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.active[s.id] = ot.Now()
	m.mu.Unlock()
	sessionsActive.Inc()

	if _, err = s.caretAppend(ctx, ot.NewCaretDelta(begin)); err != nil {
		m.drop(s.id)
		return nil, err
	}

	log.WithFields(log.Fields{
		"session":  s.id,
		"author":   author,
		"document": docID,
	}).Info("session started")
	return s, nil
}

// rebind returns the live session matching (author, docID, sessionID),
// or nil without error when no such session exists.
func (m *Manager) rebind(author ot.AuthorID, docID ot.DocumentID, sessionID ot.SessionID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s, ok = m.sessions[sessionID]
	if !ok || s.author != author || s.doc.ID() != docID {
		return nil
	}
	m.active[sessionID] = ot.Now()
	return s
}

// end terminates s, emitting the end_session caret op to peers.
func (m *Manager) end(ctx context.Context, s *Session) error {
	m.mu.Lock()
	var _, live = m.sessions[s.id]
	m.mu.Unlock()
	if !live {
		return ot.BadUsef("session %q has already ended", string(s.id))
	}

	var endOp, err = ot.NewEndSessionOp(s.id)
	if err != nil {
		return err
	}
	if _, err = s.caretAppend(ctx, ot.NewCaretDelta(endOp)); err != nil {
		return err
	}
	m.drop(s.id)

	log.WithFields(log.Fields{
		"session":  s.id,
		"document": s.doc.ID(),
	}).Info("session ended")
	return nil
}

// Sweep ends every session idle longer than the configured bound, and
// returns how many it ended.
func (m *Manager) Sweep(ctx context.Context) int {
	var cutoff = ot.Timestamp(time.Now().Add(-m.cfg.IdleTimeout).UnixMilli())

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if m.active[id] < cutoff {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	var swept int
	for _, s := range idle {
		if err := m.end(ctx, s); err != nil {
			log.WithFields(log.Fields{"session": s.id, "err": err}).Warn("failed to sweep idle session")
			continue
		}
		sessionsSwept.Inc()
		swept++
	}
	return swept
}

// Serve runs the idle sweep until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	var ticker = time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(ctx); n != 0 {
				log.WithField("sessions", n).Info("idle sweep ended sessions")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) pickColor() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var color = caretPalette[m.nextColor%len(caretPalette)]
	m.nextColor++
	return color
}

// markActive refreshes a session's activity, reporting false when the
// session is no longer live.
func (m *Manager) markActive(id ot.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	m.active[id] = ot.Now()
	return true
}

func (m *Manager) lastActive(id ot.SessionID) ot.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

func (m *Manager) drop(id ot.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		delete(m.active, id)
		sessionsActive.Dec()
	}
}

// AuthorAccess is the pre-session capability of one authenticated
// author: it mints new sessions and rebinds to existing ones.
type AuthorAccess struct {
	mgr    *Manager
	author ot.AuthorID
}

// NewAuthorAccess builds the capability for author.
func NewAuthorAccess(mgr *Manager, author ot.AuthorID) (*AuthorAccess, error) {
	if err := ot.CheckID(string(author)); err != nil {
		return nil, err
	}
	return &AuthorAccess{mgr: mgr, author: author}, nil
}

// AuthorID the capability is bound to.
func (a *AuthorAccess) AuthorID() ot.AuthorID { return a.author }

// NewSession mints a fresh session on docID.
func (a *AuthorAccess) NewSession(ctx context.Context, docID ot.DocumentID) (*Session, error) {
	return a.mgr.mint(ctx, a.author, docID)
}

// Rebind reattaches to an existing session by id. It returns nil
// without error when the (author, document, session) triple is
// unknown.
func (a *AuthorAccess) Rebind(ctx context.Context, docID ot.DocumentID, sessionID ot.SessionID) (*Session, error) {
	if err := ot.CheckID(string(sessionID)); err != nil {
		return nil, err
	}
	return a.mgr.rebind(a.author, docID, sessionID), nil
}

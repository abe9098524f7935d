// Package workspace keeps one live core per signed-in user: a session gate,
// the registry of their cuttings and their submission pipeline.
//
// A Workspace is created on the user's first authenticated request and lives
// until sign-out, token expiry or a long idle period. Releasing it publishes
// "signed out" to its gate, which clears the registry, and resets any
// in-flight submission so its result is never applied.
package workspace

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sakif/propability/internal/blob"
	"github.com/sakif/propability/internal/checkin"
	"github.com/sakif/propability/internal/clock"
	"github.com/sakif/propability/internal/inference"
	"github.com/sakif/propability/internal/metrics"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/repository"
	"github.com/sakif/propability/internal/service"
	"github.com/sakif/propability/internal/session"
)

// DefaultIdleTTL is how long an untouched workspace survives.
const DefaultIdleTTL = 2 * time.Hour

// Workspace is one user's core.
type Workspace struct {
	UserID       string
	Gate         *session.Gate
	Registry     *service.Registry
	Orchestrator *service.Orchestrator
	Scheduler    *checkin.Scheduler

	lastSeen time.Time
}

// Deps are shared by every workspace a Manager creates.
type Deps struct {
	Cuttings repository.CuttingRepository
	Blobs    blob.Store
	Analyzer inference.Analyzer
	Clock    clock.Clock
	Metrics  metrics.Recorder
	Logger   *slog.Logger
	IdleTTL  time.Duration
}

// Manager owns every live Workspace. Safe for concurrent use.
type Manager struct {
	deps Deps

	mu     sync.Mutex
	spaces map[string]*Workspace
}

// NewManager returns an empty Manager.
func NewManager(deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.IdleTTL <= 0 {
		deps.IdleTTL = DefaultIdleTTL
	}
	return &Manager{deps: deps, spaces: make(map[string]*Workspace)}
}

// Acquire returns the workspace for sess.UserID, creating it on first use.
// When sess is a newer session than the one the gate holds, it is published
// so subscribers see the refresh.
func (m *Manager) Acquire(sess *model.Session) *Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.deps.Clock.Now()
	ws, ok := m.spaces[sess.UserID]
	if !ok {
		ws = m.newWorkspace(sess.UserID)
		m.spaces[sess.UserID] = ws
		m.deps.Logger.Info("workspace opened", slog.String("userID", sess.UserID))
	}
	ws.lastSeen = now

	if cur, ok := ws.Gate.Current(); !ok || cur.Token != sess.Token {
		ws.Gate.Publish(sess)
	}
	return ws
}

func (m *Manager) newWorkspace(userID string) *Workspace {
	logger := m.deps.Logger.With(slog.String("userID", userID))
	gate := session.NewGate(m.deps.Clock)
	scheduler := checkin.NewScheduler(m.deps.Clock)
	registry := service.NewRegistry(gate, m.deps.Cuttings, scheduler, m.deps.Metrics, logger)
	orch := service.NewOrchestrator(service.SubmissionDeps{
		Session:     gate,
		Blobs:       m.deps.Blobs,
		Analyzer:    m.deps.Analyzer,
		Cuttings:    m.deps.Cuttings,
		Clock:       m.deps.Clock,
		Metrics:     m.deps.Metrics,
		Logger:      logger,
		OnPersisted: registry.Merge,
	})
	return &Workspace{
		UserID:       userID,
		Gate:         gate,
		Registry:     registry,
		Orchestrator: orch,
		Scheduler:    scheduler,
	}
}

// Get returns the live workspace for userID.
func (m *Manager) Get(userID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.spaces[userID]
	return ws, ok
}

// Len is the number of live workspaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spaces)
}

// SignOut releases the user's workspace. It is a no-op for unknown users.
func (m *Manager) SignOut(userID string) {
	m.mu.Lock()
	ws, ok := m.spaces[userID]
	delete(m.spaces, userID)
	m.mu.Unlock()

	if ok {
		m.release(ws, "signed out")
	}
}

// release runs outside the manager lock: Publish calls registry listeners.
func (m *Manager) release(ws *Workspace, reason string) {
	ws.Gate.SignOut()
	ws.Orchestrator.Reset()
	ws.Registry.Close()
	m.deps.Logger.Info("workspace released",
		slog.String("userID", ws.UserID),
		slog.String("reason", reason),
	)
}

// Sweep releases workspaces whose session expired or that sat idle past
// IdleTTL. It returns how many were released.
func (m *Manager) Sweep() int {
	now := m.deps.Clock.Now()

	type expired struct {
		ws     *Workspace
		reason string
	}
	var gone []expired

	m.mu.Lock()
	for id, ws := range m.spaces {
		switch {
		case !gateActive(ws.Gate):
			gone = append(gone, expired{ws, "session expired"})
		case now.Sub(ws.lastSeen) > m.deps.IdleTTL:
			gone = append(gone, expired{ws, "idle"})
		default:
			continue
		}
		delete(m.spaces, id)
	}
	m.mu.Unlock()

	for _, e := range gone {
		m.release(e.ws, e.reason)
	}
	return len(gone)
}

func gateActive(g *session.Gate) bool {
	_, ok := g.Current()
	return ok
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.deps.Logger.Debug("workspace sweep", slog.Int("released", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close releases every workspace.
func (m *Manager) Close() {
	m.mu.Lock()
	spaces := m.spaces
	m.spaces = make(map[string]*Workspace)
	m.mu.Unlock()

	for _, ws := range spaces {
		m.release(ws, "shutdown")
	}
}

type contextKey struct{}

// Middleware attaches the caller's workspace to the request context. It must
// run after auth.RequireAuth; sessionOf reads the session that put there.
func (m *Manager) Middleware(sessionOf func(context.Context) (*model.Session, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := sessionOf(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ws := m.Acquire(sess)
			next.ServeHTTP(w, r.WithContext(WithWorkspace(r.Context(), ws)))
		})
	}
}

// FromContext returns the workspace Middleware attached.
func FromContext(ctx context.Context) (*Workspace, bool) {
	ws, ok := ctx.Value(contextKey{}).(*Workspace)
	return ws, ok && ws != nil
}

// WithWorkspace returns a copy of ctx carrying ws. Handler tests use it.
func WithWorkspace(ctx context.Context, ws *Workspace) context.Context {
	return context.WithValue(ctx, contextKey{}, ws)
}

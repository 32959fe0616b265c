package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// logind D-Bus constants
const (
	login1Path         = "/org/freedesktop/login1"
	login1ManagerIface = "org.freedesktop.login1.Manager"
	prepareForSleep    = "PrepareForSleep"
)

// Resumer is anything that can force playback back on.
type Resumer interface {
	ID() string
	Resume() error
}

// ResumeWatcher listens for the host waking from sleep and resumes every
// registered session, since suspended devices often come back paused.
type ResumeWatcher struct {
	conn *dbus.Conn

	mu      sync.Mutex
	targets map[string]Resumer
}

// NewResumeWatcher connects to the system bus.
func NewResumeWatcher() (*ResumeWatcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	w := newResumeWatcher()
	w.conn = conn
	return w, nil
}

func newResumeWatcher() *ResumeWatcher {
	return &ResumeWatcher{targets: make(map[string]Resumer)}
}

// Add registers a session. Adding the same id again replaces it.
func (w *ResumeWatcher) Add(r Resumer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets[r.ID()] = r
}

// Remove unregisters a session.
func (w *ResumeWatcher) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.targets, id)
}

// Run blocks until ctx is done, resuming sessions after every wake-up.
func (w *ResumeWatcher) Run(ctx context.Context) error {
	log := logger.WithComponent("resume")

	if err := w.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(login1Path),
		dbus.WithMatchInterface(login1ManagerIface),
		dbus.WithMatchMember(prepareForSleep),
	); err != nil {
		return fmt.Errorf("failed to add match rule: %w", err)
	}

	signals := make(chan *dbus.Signal, 10)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	log.Info().Msg("Watching for sleep/resume")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			w.handle(sig)
		}
	}
}

// handle resumes all targets when sig is PrepareForSleep(false). It returns the
// number of sessions resumed.
func (w *ResumeWatcher) handle(sig *dbus.Signal) int {
	if sig == nil || sig.Name != login1ManagerIface+"."+prepareForSleep || len(sig.Body) < 1 {
		return 0
	}
	sleeping, ok := sig.Body[0].(bool)
	if !ok || sleeping {
		return 0
	}

	w.mu.Lock()
	targets := make([]Resumer, 0, len(w.targets))
	for _, r := range w.targets {
		targets = append(targets, r)
	}
	w.mu.Unlock()

	log := logger.WithComponent("resume")
	resumed := 0
	for _, r := range targets {
		if err := r.Resume(); err != nil {
			log.Debug().Err(err).Str("session", r.ID()).Msg("Session not resumed")
			continue
		}
		resumed++
	}
	log.Info().Int("resumed", resumed).Msg("Host woke from sleep")
	return resumed
}

// Close releases the bus connection.
func (w *ResumeWatcher) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

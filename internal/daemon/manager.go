package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	ErrAlreadyRunning = errors.New("daemon already running")
	ErrStale          = errors.New("stale daemon marker")
	ErrNotRunning     = errors.New("daemon not running")
	ErrStopTimeout    = errors.New("daemon did not exit in time")
)

// State is the lifecycle position of a Manager inside the daemon process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status is the daemon's liveness as seen from any process.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusStale   Status = "stale"
)

// Loop is a component whose lifetime is bound to the daemon's.
// Stop returns a context that is done once in-flight work has drained.
type Loop interface {
	Start(ctx context.Context)
	Stop() context.Context
}

const (
	DefaultStopPollInterval = 500 * time.Millisecond
	DefaultStopPollAttempts = 10
	DefaultShutdownGrace    = 30 * time.Second
)

// Options tunes a Manager. Zero values select defaults.
type Options struct {
	// Force removes a stale marker on Run instead of failing.
	Force            bool
	StopPollInterval time.Duration
	StopPollAttempts int
	ShutdownGrace    time.Duration
	Clock            clockwork.Clock
}

// Manager owns the liveness marker and the lifetime of the daemon's loops.
type Manager struct {
	marker *Marker
	logger *slog.Logger
	opts   Options
	pid    int

	isAlive   func(pid int) (bool, error)
	terminate func(pid int) error

	mu    sync.Mutex
	state State
}

func NewManager(stateDir string, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StopPollInterval <= 0 {
		opts.StopPollInterval = DefaultStopPollInterval
	}
	if opts.StopPollAttempts <= 0 {
		opts.StopPollAttempts = DefaultStopPollAttempts
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Manager{
		marker:    NewMarker(stateDir),
		logger:    logger.With("component", "daemon"),
		opts:      opts,
		pid:       os.Getpid(),
		isAlive:   processAlive,
		terminate: terminateProcess,
		state:     StateStopped,
	}
}

// Marker exposes the manager's liveness marker.
func (m *Manager) Marker() *Marker { return m.marker }

// State reports the in-process lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run claims the marker, starts loops in order and blocks until ctx is done.
// Loops are then stopped in reverse order, each given ShutdownGrace to drain,
// and the marker is removed.
func (m *Manager) Run(ctx context.Context, loops ...Loop) error {
	m.mu.Lock()
	if m.state != StateStopped {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("daemon manager is %s", state)
	}
	m.state = StateStarting
	m.mu.Unlock()

	if err := m.acquire(); err != nil {
		m.setState(StateStopped)
		return err
	}

	loopCtx, cancelLoops := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelLoops()

	m.setState(StateRunning)
	m.logger.Info("daemon running", "pid", m.pid, "marker", m.marker.Path())
	for _, l := range loops {
		l.Start(loopCtx)
	}

	<-ctx.Done()

	m.setState(StateStopping)
	m.logger.Info("daemon stopping")
	for i := len(loops) - 1; i >= 0; i-- {
		select {
		case <-loops[i].Stop().Done():
		case <-m.opts.Clock.After(m.opts.ShutdownGrace):
			m.logger.Warn("shutdown grace elapsed with work in flight", "grace", m.opts.ShutdownGrace)
		}
	}
	cancelLoops()

	if err := m.marker.RemoveIf(m.pid); err != nil {
		m.logger.Warn("remove marker", "err", err)
	}
	m.setState(StateStopped)
	m.logger.Info("daemon stopped")
	return nil
}

func (m *Manager) acquire() error {
	for attempt := 0; attempt < 2; attempt++ {
		err := m.marker.Create(m.pid)
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		status, pid, err := m.Status()
		if err != nil {
			return err
		}
		switch status {
		case StatusRunning:
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		case StatusStale:
			if !m.opts.Force {
				return fmt.Errorf("%w: pid %d is gone; remove %s or start with --force", ErrStale, pid, m.marker.Path())
			}
			m.logger.Warn("removing stale marker", "pid", pid, "marker", m.marker.Path())
			if err := m.marker.Remove(); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: marker %s was recreated concurrently", ErrAlreadyRunning, m.marker.Path())
}

// Status inspects the marker and the process it names. A marker whose
// content cannot be parsed is reported as stale with pid 0.
func (m *Manager) Status() (Status, int, error) {
	pid, err := m.marker.Read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return StatusStopped, 0, nil
	case errors.Is(err, ErrCorruptMarker):
		return StatusStale, 0, nil
	case err != nil:
		return "", 0, fmt.Errorf("read marker: %w", err)
	}
	alive, err := m.isAlive(pid)
	if err != nil {
		return "", pid, fmt.Errorf("check pid %d: %w", pid, err)
	}
	if !alive {
		return StatusStale, pid, nil
	}
	return StatusRunning, pid, nil
}

// Stop asks the running daemon to exit with SIGTERM and waits for it. The
// wait lasts at least ShutdownGrace so a daemon draining an in-flight
// execution is not reported as stuck.
func (m *Manager) Stop(ctx context.Context) error {
	status, pid, err := m.Status()
	if err != nil {
		return err
	}
	switch status {
	case StatusStopped:
		return ErrNotRunning
	case StatusStale:
		return fmt.Errorf("%w (pid %d)", ErrStale, pid)
	}

	m.logger.Info("sending SIGTERM", "pid", pid)
	if err := m.terminate(pid); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	polls := m.stopPolls()
	for i := 0; i < polls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.opts.Clock.After(m.opts.StopPollInterval):
		}
		alive, err := m.isAlive(pid)
		if err != nil {
			m.logger.Debug("poll daemon pid", "pid", pid, "err", err)
			continue
		}
		if !alive {
			// a clean shutdown removes it already
			return m.marker.RemoveIf(pid)
		}
	}
	waited := time.Duration(polls) * m.opts.StopPollInterval
	return fmt.Errorf("%w: pid %d still alive after %s", ErrStopTimeout, pid, waited)
}

func (m *Manager) stopPolls() int {
	polls := int(m.opts.ShutdownGrace/m.opts.StopPollInterval) + 1
	if polls < m.opts.StopPollAttempts {
		polls = m.opts.StopPollAttempts
	}
	return polls
}

func processAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	return process.PidExists(int32(pid))
}

func terminateProcess(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Terminate()
}

package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay        = 2 * time.Second
	defaultMaxRestartDelay     = time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 15 * time.Second
	healthCheckTimeout         = 5 * time.Second
	maxHealthFailures          = 3
)

// ErrAlreadyRunning is returned by Start while the process is up.
var ErrAlreadyRunning = errors.New("process: already running")

// Config holds configuration for a supervised subprocess.
type Config struct {
	// Name identifies the process in logs.
	Name string

	Binary string
	Args   []string

	// Env is appended to the parent environment. Nil inherits it unchanged.
	Env []string

	WorkDir string

	RestartOnFailure bool

	// RestartDelay is the wait before the first restart. Later attempts
	// double it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc is polled every HealthCheckInterval. Three failures in
	// a row kill the process, which then restarts like any other crash.
	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration

	OnStart   func()
	OnStop    func(err error)
	OnRestart func(attempt int)
}

// SimulatorConfig builds the Config for a `labsim` child listening on
// host:port, health-checked through its /health route.
func SimulatorConfig(binary, host string, port int) Config {
	return Config{
		Name:                "labsim",
		Binary:              binary,
		Args:                []string{"labsim", "--host", host, "--port", strconv.Itoa(port)},
		RestartOnFailure:    true,
		RestartDelay:        defaultRestartDelay,
		MaxRestartDelay:     defaultMaxRestartDelay,
		MaxRestartAttempts:  5,
		GracefulTimeout:     defaultGracefulTimeout,
		HealthCheckFunc:     HTTPHealthCheck(nil, fmt.Sprintf("http://%s:%d/health", host, port)),
		HealthCheckInterval: defaultHealthCheckInterval,
	}
}

// HTTPHealthCheck returns a check that passes when GET url answers 2xx.
func HTTPHealthCheck(client *http.Client, url string) func(ctx context.Context) error {
	if client == nil {
		client = &http.Client{Timeout: healthCheckTimeout}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("building health request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("health status %d", resp.StatusCode)
		}
		return nil
	}
}

// WaitHealthy polls check until it passes or ctx ends.
func WaitHealthy(ctx context.Context, check func(ctx context.Context) error, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := check(checkCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for healthy process: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one subprocess.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	done          chan struct{}
}

// NewManager creates a manager, filling zero durations with defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the process and supervises it until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting || m.supervising() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.spawn(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx)
	return nil
}

// supervising reports whether a previous Start is still restarting the
// process. Callers hold mu.
func (m *Manager) supervising() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Manager) spawn(ctx context.Context) error {
	m.logger.Info("starting process", "name", m.config.Name, "binary", m.config.Binary, "args", m.config.Args)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.relay("stdout", stdout)
	go m.relay("stderr", stderr)

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

// relay logs the child's output line by line.
func (m *Manager) relay(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", scanner.Text())
	}
}

// watch waits for cmd to exit, killing it when health checks keep failing.
func (m *Manager) watch(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	if m.config.HealthCheckFunc == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err
		case <-ctx.Done():
			return <-exitCh
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheckFunc(checkCtx)
			cancel()
			if err == nil {
				if failures > 0 {
					m.logger.Info("health check recovered", "name", m.config.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}
			failures++
			m.logger.Warn("health check failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
			if failures < maxHealthFailures {
				continue
			}
			m.logger.Error("process unhealthy, killing", "name", m.config.Name, "failures", failures)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-exitCh
			return fmt.Errorf("killed after %d failed health checks", failures)
		}
	}
}

// supervise restarts the process after unexpected exits.
func (m *Manager) supervise(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		err := m.watch(ctx, cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested || ctx.Err() != nil
		if stopRequested {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
		}
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("process stopped", "name", m.config.Name)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)
		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}
		if !m.config.RestartOnFailure {
			return
		}

		for {
			m.mu.Lock()
			m.restartCount++
			attempt := m.restartCount
			m.mu.Unlock()

			if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
				m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
				return
			}

			delay := m.backoff(attempt)
			m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)
			if m.config.OnRestart != nil {
				m.config.OnRestart(attempt)
			}

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				m.setStopped()
				return
			case <-t.C:
			}

			m.mu.RLock()
			stop := m.stopRequested
			m.mu.RUnlock()
			if stop {
				m.setStopped()
				return
			}

			err := m.spawn(ctx)
			if err == nil {
				break
			}
			m.logger.Error("restart failed", "name", m.config.Name, "attempt", attempt, "error", err)
			m.mu.Lock()
			m.lastError = err
			m.mu.Unlock()
		}
	}
}

func (m *Manager) setStopped() {
	m.mu.Lock()
	m.status = StatusStopped
	m.mu.Unlock()
}

// backoff doubles RestartDelay per attempt, capped at MaxRestartDelay.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return min(d, m.config.MaxRestartDelay)
}

// Stop sends SIGTERM to the process group, then SIGKILL after
// GracefulTimeout, and waits for supervision to end.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		// Supervision may be sleeping between restarts.
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("SIGTERM failed", "name", m.config.Name, "error", err)
	}

	t := time.NewTimer(m.config.GracefulTimeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		m.logger.Warn("graceful shutdown timed out, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Done is closed when supervision ends.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the process is currently up.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error from the most recent unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns how many restarts have been attempted since Start.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time view of the supervised process.
type Stats struct {
	Name         string `json:"name"`
	Status       Status `json:"status"`
	PID          int    `json:"pid,omitempty"`
	UptimeSec    int64  `json:"uptime_seconds,omitempty"`
	RestartCount int    `json:"restart_count"`
	LastError    string `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
		stats.UptimeSec = int64(time.Since(m.startTime).Seconds())
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}

// Package ollama supervises a local Ollama daemon: it starts and stops the
// child process, reports its state and provisions the models it needs.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyRunning is returned by Start when a daemon already answers.
	ErrAlreadyRunning = eris.New("ollama daemon is already running")
	// ErrNotRunning is returned when an operation needs a daemon that is not there.
	ErrNotRunning = eris.New("ollama daemon is not running")
	// ErrModelNotFound is returned when deleting a model the daemon does not have.
	ErrModelNotFound = eris.New("model not found")
)

// EmbeddingModel is pulled in full mode for local embeddings (768 dimensions).
const EmbeddingModel = "nomic-embed-text"

const (
	defaultPollInterval = time.Second
	defaultStartTimeout = 30 * time.Second
)

// Options configures the Manager.
type Options struct {
	Client       *api.Client
	Host         string
	Binary       string
	ChatModel    string
	LiteMode     bool
	Logger       *logrus.Logger
	PollInterval time.Duration
	StartTimeout time.Duration
	// OnStateChange runs after the daemon was started or stopped.
	OnStateChange func()
}

// Model is an installed model as reported by the daemon.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Status describes the daemon as seen by this process.
type Status struct {
	Running bool    `json:"running"`
	Managed bool    `json:"managed"`
	PID     int     `json:"pid,omitempty"`
	Uptime  string  `json:"uptime,omitempty"`
	Models  []Model `json:"models"`
}

// PullProgress is one model download update.
type PullProgress struct {
	Model     string `json:"model"`
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Manager owns at most one `ollama serve` child process.
type Manager struct {
	client        *api.Client
	host          string
	binary        string
	chatModel     string
	liteMode      bool
	logger        *logrus.Logger
	pollInterval  time.Duration
	startTimeout  time.Duration
	onStateChange func()

	mu      sync.Mutex
	cmd     *exec.Cmd
	started time.Time
	exited  chan struct{}
}

// NewManager validates opts and constructs a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Client == nil {
		return nil, eris.New("ollama api client is required")
	}

	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		return nil, eris.New("ollama binary is required")
	}

	chatModel := strings.TrimSpace(opts.ChatModel)
	if chatModel == "" {
		return nil, eris.New("chat model is required")
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	timeout := opts.StartTimeout
	if timeout <= 0 {
		timeout = defaultStartTimeout
	}

	return &Manager{
		client:        opts.Client,
		host:          strings.TrimSpace(opts.Host),
		binary:        binary,
		chatModel:     chatModel,
		liteMode:      opts.LiteMode,
		logger:        opts.Logger,
		pollInterval:  poll,
		startTimeout:  timeout,
		onStateChange: opts.OnStateChange,
	}, nil
}

// RequiredModels lists the models Provision pulls.
func (m *Manager) RequiredModels() []string {
	if m.liteMode {
		return []string{m.chatModel}
	}
	return []string{m.chatModel, EmbeddingModel}
}

// Status reports whether the daemon answers, the owned process and the installed models.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	status := Status{Models: []Model{}}

	m.mu.Lock()
	if m.cmd != nil && m.cmd.Process != nil {
		status.Managed = true
		status.PID = m.cmd.Process.Pid
		status.Uptime = time.Since(m.started).Truncate(time.Second).String()
	}
	m.mu.Unlock()

	if err := m.client.Heartbeat(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Status{}, ctxErr
		}
		return status, nil
	}
	status.Running = true

	listing, err := m.client.List(ctx)
	if err != nil {
		m.logError(logrus.Fields{}, err, "listing models")
		return Status{}, eris.Wrap(err, "listing models")
	}

	for _, model := range listing.Models {
		status.Models = append(status.Models, Model{
			Name:       model.Name,
			Size:       model.Size,
			ModifiedAt: model.ModifiedAt,
		})
	}

	return status, nil
}

// Start spawns `ollama serve` and waits until it answers. It returns the child pid.
func (m *Manager) Start(ctx context.Context) (int, error) {
	if m.client.Heartbeat(ctx) == nil {
		return 0, ErrAlreadyRunning
	}

	m.mu.Lock()
	if m.cmd != nil {
		m.mu.Unlock()
		return 0, eris.Wrap(ErrAlreadyRunning, "owned process has not become ready")
	}

	cmd := exec.Command(m.binary, "serve")
	cmd.Env = append(os.Environ(), "OLLAMA_NOPRUNE=true")
	if m.host != "" {
		cmd.Env = append(cmd.Env, "OLLAMA_HOST="+m.host)
	}

	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		m.logError(logrus.Fields{"binary": m.binary}, err, "starting ollama")
		return 0, eris.Wrapf(err, "starting %s serve", m.binary)
	}

	exited := make(chan struct{})
	m.cmd = cmd
	m.started = time.Now()
	m.exited = exited
	pid := cmd.Process.Pid
	m.mu.Unlock()

	go m.reap(cmd, exited)

	m.logInfo(logrus.Fields{"pid": pid}, "ollama process spawned")

	if err := m.waitReady(ctx, exited); err != nil {
		_ = m.kill(cmd, exited)
		m.logError(logrus.Fields{"pid": pid}, err, "ollama did not become ready")
		return 0, err
	}

	m.notify()
	m.logInfo(logrus.Fields{"pid": pid}, "ollama ready")
	return pid, nil
}

// Stop kills the owned daemon process.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cmd, exited := m.cmd, m.exited
	m.mu.Unlock()

	if cmd == nil {
		return ErrNotRunning
	}

	if err := m.kill(cmd, exited); err != nil {
		m.logError(logrus.Fields{"pid": cmd.Process.Pid}, err, "stopping ollama")
		return eris.Wrap(err, "stopping ollama")
	}

	m.notify()
	m.logInfo(logrus.Fields{"pid": cmd.Process.Pid}, "ollama stopped")
	return nil
}

// Provision pulls every required model, forwarding pull progress to fn.
func (m *Manager) Provision(ctx context.Context, fn func(PullProgress) error) error {
	if err := m.client.Heartbeat(ctx); err != nil {
		return eris.Wrap(ErrNotRunning, "provisioning models")
	}

	for _, model := range m.RequiredModels() {
		name := model
		m.logInfo(logrus.Fields{"model": name}, "pulling model")

		err := m.client.Pull(ctx, &api.PullRequest{Model: name}, func(update api.ProgressResponse) error {
			if fn == nil {
				return nil
			}
			return fn(PullProgress{
				Model:     name,
				Status:    update.Status,
				Digest:    update.Digest,
				Total:     update.Total,
				Completed: update.Completed,
			})
		})
		if err != nil {
			m.logError(logrus.Fields{"model": name}, err, "pulling model")
			return eris.Wrapf(err, "pulling %s", name)
		}
	}

	return nil
}

// DeleteModel removes an installed model.
func (m *Manager) DeleteModel(ctx context.Context, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return eris.New("model name is required")
	}

	if err := m.client.Delete(ctx, &api.DeleteRequest{Model: trimmed}); err != nil {
		var status api.StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return eris.Wrapf(ErrModelNotFound, "deleting %s", trimmed)
		}
		if m.client.Heartbeat(ctx) != nil {
			return eris.Wrapf(ErrNotRunning, "deleting %s", trimmed)
		}
		m.logError(logrus.Fields{"model": trimmed}, err, "deleting model")
		return eris.Wrapf(err, "deleting %s", trimmed)
	}

	m.logInfo(logrus.Fields{"model": trimmed}, "model deleted")
	return nil
}

func (m *Manager) waitReady(ctx context.Context, exited <-chan struct{}) error {
	deadline := time.NewTimer(m.startTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return eris.New("ollama exited before becoming ready")
		case <-deadline.C:
			return eris.Errorf("ollama not ready after %s", m.startTimeout)
		case <-ticker.C:
			if m.client.Heartbeat(ctx) == nil {
				return nil
			}
		}
	}
}

func (m *Manager) reap(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	m.mu.Lock()
	if m.cmd == cmd {
		m.cmd = nil
		m.exited = nil
	}
	m.mu.Unlock()
	close(exited)

	if err != nil {
		m.logInfo(logrus.Fields{"pid": cmd.Process.Pid, "exit": err.Error()}, "ollama process exited")
	}
}

func (m *Manager) kill(cmd *exec.Cmd, exited <-chan struct{}) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-exited
	return nil
}

func (m *Manager) notify() {
	if m.onStateChange != nil {
		m.onStateChange()
	}
}

func (m *Manager) logInfo(fields logrus.Fields, message string) {
	if m.logger == nil {
		return
	}
	m.logger.WithField("component", "ollama.manager").WithFields(fields).Info(message)
}

func (m *Manager) logError(fields logrus.Fields, err error, message string) {
	if m.logger == nil || err == nil {
		return
	}

	entry := m.logger.WithField("error", err.Error()).WithField("component", "ollama.manager")
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

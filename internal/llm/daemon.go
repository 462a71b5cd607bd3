package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// DaemonOptions configures the local model daemon backend.
type DaemonOptions struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Daemon talks to a locally running Ollama server.
type Daemon struct {
	api     *api.Client
	logger  *logrus.Logger
	model   string
	baseURL string
}

var (
	_ Backend      = (*Daemon)(nil)
	_ Streamer     = (*Daemon)(nil)
	_ ChatStreamer = (*Daemon)(nil)
)

// NewDaemon constructs the daemon backend.
func NewDaemon(opts DaemonOptions) (*Daemon, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, eris.New("daemon base url is required")
	}

	base, err := url.Parse(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "parsing daemon base url %q", raw)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, eris.Errorf("daemon base url %q must include scheme and host", raw)
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, eris.New("daemon model is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Daemon{
		api:     api.NewClient(base, httpClient),
		logger:  opts.Logger,
		model:   model,
		baseURL: base.String(),
	}, nil
}

// Name identifies the backend in responses and logs.
func (d *Daemon) Name() string {
	return "daemon"
}

// Model returns the default model name.
func (d *Daemon) Model() string {
	return d.model
}

// API exposes the underlying client to the process manager.
func (d *Daemon) API() *api.Client {
	return d.api
}

// Available reports whether the daemon answers its heartbeat.
func (d *Daemon) Available(ctx context.Context) bool {
	return d.api.Heartbeat(ctx) == nil
}

// Generate returns the full completion for prompt.
func (d *Daemon) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	var b strings.Builder
	err := d.generate(ctx, prompt, opts, false, func(chunk string) error {
		b.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// Stream delivers the completion for prompt chunk by chunk.
func (d *Daemon) Stream(ctx context.Context, prompt string, opts Options, fn func(chunk string) error) error {
	if fn == nil {
		return eris.New("stream callback is required")
	}
	return d.generate(ctx, prompt, opts, true, fn)
}

func (d *Daemon) generate(ctx context.Context, prompt string, opts Options, stream bool, fn func(string) error) error {
	if strings.TrimSpace(prompt) == "" {
		return eris.New("prompt is required")
	}

	model := d.pickModel(opts.Model)
	request := &api.GenerateRequest{
		Model:  model,
		Prompt: AugmentPrompt(prompt, opts.Context),
		Stream: &stream,
	}

	var callbackErr error
	err := d.api.Generate(ctx, request, func(response api.GenerateResponse) error {
		if response.Response == "" {
			return nil
		}
		if err := fn(response.Response); err != nil {
			callbackErr = err
			return err
		}
		return nil
	})
	if callbackErr != nil {
		return callbackErr
	}
	if err != nil {
		classified := classifyDaemon(err, model)
		d.logError(logrus.Fields{"model": model, "stream": stream}, classified, "generating with daemon")
		return eris.Wrap(classified, "generating with daemon")
	}

	return nil
}

// Chat streams the assistant reply to a multi-turn conversation.
func (d *Daemon) Chat(ctx context.Context, messages []Message, model string, fn func(chunk string) error) error {
	if len(messages) == 0 {
		return eris.New("at least one message is required")
	}
	if fn == nil {
		return eris.New("chat callback is required")
	}

	converted := make([]api.Message, 0, len(messages))
	for _, message := range messages {
		role := strings.TrimSpace(message.Role)
		if role == "" {
			role = "user"
		}
		converted = append(converted, api.Message{Role: role, Content: message.Content})
	}

	chosen := d.pickModel(model)
	stream := true
	request := &api.ChatRequest{
		Model:    chosen,
		Messages: converted,
		Stream:   &stream,
	}

	var callbackErr error
	err := d.api.Chat(ctx, request, func(response api.ChatResponse) error {
		if response.Message.Content == "" {
			return nil
		}
		if err := fn(response.Message.Content); err != nil {
			callbackErr = err
			return err
		}
		return nil
	})
	if callbackErr != nil {
		return callbackErr
	}
	if err != nil {
		classified := classifyDaemon(err, chosen)
		d.logError(logrus.Fields{"model": chosen, "messages": len(messages)}, classified, "chatting with daemon")
		return eris.Wrap(classified, "chatting with daemon")
	}

	return nil
}

func (d *Daemon) pickModel(model string) string {
	if trimmed := strings.TrimSpace(model); trimmed != "" {
		return trimmed
	}
	return d.model
}

func (d *Daemon) logError(fields logrus.Fields, err error, message string) {
	if d.logger == nil || err == nil {
		return
	}

	entry := d.logger.WithField("error", err.Error()).WithField("component", "llm.daemon")
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

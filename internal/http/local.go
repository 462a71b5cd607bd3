package http

import (
	"context"
	stdhttp "net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/llm"
	"seowriter/app/internal/ollama"
)

var errLocalUnavailable = eris.Wrap(ollama.ErrNotRunning, "local model management is not configured")

type localStatusResponse struct {
	Body struct {
		ollama.Status
		RequiredModels []string `json:"requiredModels"`
	}
}

type localStartResponse struct {
	Body struct {
		PID     int    `json:"pid"`
		Message string `json:"message"`
	}
}

type localMessageResponse struct {
	Body struct {
		Message string `json:"message"`
	}
}

type chatInput struct {
	Body struct {
		Messages []llm.Message `json:"messages" minItems:"1"`
		Model    string        `json:"model,omitempty"`
	}
}

type modelInput struct {
	Name string `path:"name"`
}

type initStageEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type tokenEvent struct {
	Content string `json:"content"`
}

type streamDoneEvent struct {
	Message string `json:"message"`
}

func (s *Server) registerLocalRoutes() {
	huma.Get(s.api, "/api/local-llm/status", s.localStatus, summary("Local daemon status"))
	huma.Post(s.api, "/api/local-llm/start", s.localStart, summary("Start local daemon"))
	huma.Post(s.api, "/api/local-llm/stop", s.localStop, summary("Stop local daemon"))
	huma.Delete(s.api, "/api/local-llm/models/{name}", s.localDeleteModel, summary("Delete local model"), defaultStatus(stdhttp.StatusNoContent))

	sse.Register(s.api, huma.Operation{
		OperationID: "local-llm-init",
		Method:      stdhttp.MethodPost,
		Path:        "/api/local-llm/init",
		Summary:     "Start the local daemon and pull the required models",
	}, map[string]any{
		"stage":    initStageEvent{},
		"progress": ollama.PullProgress{},
		"done":     streamDoneEvent{},
		"error":    problemEvent{},
	}, s.localInit)

	sse.Register(s.api, huma.Operation{
		OperationID: "local-llm-chat",
		Method:      stdhttp.MethodPost,
		Path:        "/api/local-llm/chat",
		Summary:     "Chat with the local model",
	}, map[string]any{
		"token": tokenEvent{},
		"done":  streamDoneEvent{},
		"error": problemEvent{},
	}, s.localChat)
}

func (s *Server) localStatus(ctx context.Context, _ *struct{}) (*localStatusResponse, error) {
	resp := &localStatusResponse{}
	if s.manager == nil {
		resp.Body.Models = []ollama.Model{}
		resp.Body.RequiredModels = []string{}
		return resp, nil
	}

	status, err := s.manager.Status(ctx)
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to read local daemon status", nil)
	}
	if status.Models == nil {
		status.Models = []ollama.Model{}
	}

	resp.Body.Status = status
	resp.Body.RequiredModels = s.manager.RequiredModels()
	return resp, nil
}

func (s *Server) localStart(ctx context.Context, _ *struct{}) (*localStartResponse, error) {
	if s.manager == nil {
		return nil, s.fail(ctx, errLocalUnavailable, "Failed to start local daemon", nil)
	}

	pid, err := s.manager.Start(ctx)
	if err != nil {
		return nil, s.fail(ctx, err, "Failed to start local daemon", nil)
	}

	resp := &localStartResponse{}
	resp.Body.PID = pid
	resp.Body.Message = "Local daemon started"
	return resp, nil
}

func (s *Server) localStop(ctx context.Context, _ *struct{}) (*localMessageResponse, error) {
	if s.manager == nil {
		return nil, s.fail(ctx, errLocalUnavailable, "Failed to stop local daemon", nil)
	}

	if err := s.manager.Stop(); err != nil {
		return nil, s.fail(ctx, err, "Failed to stop local daemon", nil)
	}

	resp := &localMessageResponse{}
	resp.Body.Message = "Local daemon stopped"
	return resp, nil
}

func (s *Server) localDeleteModel(ctx context.Context, input *modelInput) (*struct{}, error) {
	if s.manager == nil {
		return nil, s.fail(ctx, errLocalUnavailable, "Failed to delete model", nil)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, huma.Error400BadRequest("model name is required")
	}

	if err := s.manager.DeleteModel(ctx, name); err != nil {
		return nil, s.fail(ctx, err, "Failed to delete model", logrus.Fields{"model": name})
	}
	return nil, nil
}

func (s *Server) localInit(ctx context.Context, _ *struct{}, send sse.Sender) {
	const title = "Local model setup failed"

	if s.manager == nil {
		s.sendProblem(ctx, send, s.fail(ctx, errLocalUnavailable, title, nil))
		return
	}

	status, err := s.manager.Status(ctx)
	if err != nil {
		s.sendProblem(ctx, send, s.fail(ctx, err, title, nil))
		return
	}

	if !status.Running {
		_ = send.Data(initStageEvent{Stage: "starting", Message: "Starting local daemon"})
		if _, err := s.manager.Start(ctx); err != nil && !eris.Is(err, ollama.ErrAlreadyRunning) {
			s.sendProblem(ctx, send, s.fail(ctx, err, title, nil))
			return
		}
	}

	_ = send.Data(initStageEvent{Stage: "pulling", Message: "Downloading " + strings.Join(s.manager.RequiredModels(), ", ")})
	err = s.manager.Provision(ctx, func(progress ollama.PullProgress) error {
		return send.Data(progress)
	})
	if err != nil {
		s.sendProblem(ctx, send, s.fail(ctx, err, title, nil))
		return
	}

	if s.local != nil {
		s.local.Reset()
	}
	_ = send.Data(streamDoneEvent{Message: "Local models are ready"})
}

func (s *Server) localChat(ctx context.Context, input *chatInput, send sse.Sender) {
	const title = "Local chat failed"

	if s.chat == nil {
		s.sendProblem(ctx, send, s.fail(ctx, errLocalUnavailable, title, nil))
		return
	}

	model := strings.TrimSpace(input.Body.Model)
	err := s.chat.Chat(ctx, input.Body.Messages, model, func(chunk string) error {
		return send.Data(tokenEvent{Content: chunk})
	})
	if err != nil {
		s.sendProblem(ctx, send, s.fail(ctx, err, title, logrus.Fields{"model": model}))
		return
	}

	_ = send.Data(streamDoneEvent{Message: "done"})
}

package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"seowriter/app/internal/article"
	"seowriter/app/internal/llm"
	"seowriter/app/internal/ollama"
	"seowriter/app/internal/scrape"
	"seowriter/app/internal/workflow"
)

const (
	errorFallbackMessage = "We couldn't process your request right now."
	modelRemediation     = "The local model is not installed. Run POST /api/local-llm/init to download it."
)

func init() {
	// Request validation failures are reported as 400 with per-field details.
	base := huma.NewError
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == stdhttp.StatusUnprocessableEntity {
			status = stdhttp.StatusBadRequest
		}
		return base(status, msg, errs...)
	}
}

// toHTTPError maps a domain error onto a problem body. title is the short toast title shown
// by the client.
func toHTTPError(err error, title string) huma.StatusError {
	status, detail := classifyError(err)

	model := &huma.ErrorModel{
		Status: status,
		Title:  title,
		Detail: detail,
	}
	if model.Title == "" {
		model.Title = stdhttp.StatusText(status)
	}

	var verr *article.ValidationError
	if errors.As(err, &verr) {
		for _, field := range verr.Fields {
			model.Errors = append(model.Errors, &huma.ErrorDetail{
				Location: "body." + field.Field,
				Message:  field.Message,
			})
		}
	}

	return model
}

func classifyError(err error) (int, string) {
	switch {
	case err == nil:
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	case eris.Is(err, article.ErrNotFound):
		return stdhttp.StatusNotFound, "Article not found."
	case eris.Is(err, workflow.ErrSectionNotFound):
		return stdhttp.StatusNotFound, "The requested section is not part of the outline."
	case eris.Is(err, ollama.ErrModelNotFound):
		return stdhttp.StatusNotFound, "The model is not installed on the local daemon."
	case eris.Is(err, article.ErrInvalid):
		return stdhttp.StatusBadRequest, "The article data is invalid."
	case eris.Is(err, workflow.ErrPrecondition):
		return stdhttp.StatusBadRequest, err.Error()
	case eris.Is(err, llm.ErrModelNotAvailable):
		return stdhttp.StatusConflict, modelRemediation
	case eris.Is(err, ollama.ErrAlreadyRunning):
		return stdhttp.StatusConflict, "The local daemon is already running."
	case eris.Is(err, ollama.ErrNotRunning):
		return stdhttp.StatusConflict, "The local daemon is not running. Start it first."
	case eris.Is(err, llm.ErrConnection),
		eris.Is(err, llm.ErrParse),
		eris.Is(err, llm.ErrUpstream),
		eris.Is(err, llm.ErrNoBackend),
		eris.Is(err, scrape.ErrSearchFailed):
		return stdhttp.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return stdhttp.StatusGatewayTimeout, "The request took too long to complete."
	default:
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	}
}

// fail records err and converts it into the problem body returned to the client.
func (s *Server) fail(ctx context.Context, err error, title string, fields logrus.Fields) error {
	httpErr := toHTTPError(err, title)
	if httpErr.GetStatus() >= stdhttp.StatusInternalServerError {
		s.recordError(ctx, err, title, fields)
	} else {
		s.logWarn(ctx, err, title, fields)
	}
	return httpErr
}

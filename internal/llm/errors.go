package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v2"
	"github.com/rotisserie/eris"
)

var (
	// ErrConnection marks a backend that could not be reached.
	ErrConnection = eris.New("llm backend unreachable")
	// ErrParse marks a structured response that could not be decoded.
	ErrParse = eris.New("llm response could not be parsed")
	// ErrModelNotAvailable marks a daemon that does not have the requested model installed.
	ErrModelNotAvailable = eris.New("model not available")
	// ErrUpstream marks a backend that answered with an error or refused the request.
	ErrUpstream = eris.New("llm backend error")
	// ErrNoBackend is returned when no local backend passes its probe.
	ErrNoBackend = eris.New("no local llm backend available")
)

// classifyRemote maps an SDK error onto the package sentinels.
func classifyRemote(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return eris.Wrapf(ErrUpstream, "remote api returned %d: %s", apiErr.StatusCode, apiErr.Message)
	}

	return eris.Wrapf(ErrConnection, "%v", err)
}

// classifyDaemon maps an ollama client error onto the package sentinels.
func classifyDaemon(err error, model string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status, ok := statusError(err)
	if !ok {
		// Streamed replies surface the daemon's error body as a plain error.
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return eris.Wrapf(ErrModelNotAvailable, "model %q is not installed; pull it first", model)
		}
		return eris.Wrapf(ErrConnection, "%v", err)
	}

	message := strings.ToLower(status.ErrorMessage + " " + status.Status)
	if status.StatusCode == http.StatusNotFound || strings.Contains(message, "not found") {
		return eris.Wrapf(ErrModelNotAvailable, "model %q is not installed; pull it first", model)
	}

	return eris.Wrapf(ErrUpstream, "daemon returned %d: %s", status.StatusCode, strings.TrimSpace(status.ErrorMessage))
}

func statusError(err error) (api.StatusError, bool) {
	var value api.StatusError
	if errors.As(err, &value) {
		return value, true
	}

	var pointer *api.StatusError
	if errors.As(err, &pointer) && pointer != nil {
		return *pointer, true
	}

	return api.StatusError{}, false
}

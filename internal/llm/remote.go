package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"
	"github.com/openai/openai-go/v2/shared/constant"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// RemoteOptions configures the hosted completion backend.
type RemoteOptions struct {
	Client      *Client
	Model       string
	Temperature float64
}

// Remote generates text and schema-constrained JSON through the hosted completion API.
type Remote struct {
	client      *Client
	logger      *logrus.Logger
	model       string
	temperature float64
}

// JSONRequest describes one structured completion.
type JSONRequest struct {
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
}

const defaultTemperature = 0.7

var _ Backend = (*Remote)(nil)

// NewRemote constructs the remote backend.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.Client == nil {
		return nil, eris.New("llm client is required")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, eris.New("remote model is required")
	}

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	return &Remote{
		client:      opts.Client,
		logger:      opts.Client.logger,
		model:       model,
		temperature: temperature,
	}, nil
}

// Name identifies the backend in responses and logs.
func (r *Remote) Name() string {
	return "remote"
}

// Generate returns a free-text completion for prompt, grounded in opts.Context when present.
func (r *Remote) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", eris.New("prompt is required")
	}

	return r.GenerateText(ctx, "", AugmentPrompt(prompt, opts.Context), opts.Model)
}

// GenerateText runs a system + user completion and returns the message content.
func (r *Remote) GenerateText(ctx context.Context, system, user, model string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(r.pickModel(model)),
		Messages:    messages,
		Temperature: openai.Float(r.temperature),
	}

	content, err := r.complete(ctx, params, logrus.Fields{"mode": "text"})
	if err != nil {
		return "", err
	}
	return content, nil
}

// GenerateJSON runs a strict JSON-schema completion and decodes the result into out.
func (r *Remote) GenerateJSON(ctx context.Context, req JSONRequest, out any) error {
	if out == nil {
		return eris.New("output target is required")
	}
	if req.Schema == nil || strings.TrimSpace(req.SchemaName) == "" {
		return eris.New("response schema is required")
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Strict: openai.Bool(true),
					Schema: req.Schema,
				},
				Type: constant.ValueOf[constant.JSONSchema](),
			},
		},
		Temperature: openai.Float(r.temperature),
	}

	fields := logrus.Fields{"mode": "json", "schema": req.SchemaName}

	content, err := r.complete(ctx, params, fields)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(stripFences(content)), out); err != nil {
		wrapped := eris.Wrapf(ErrParse, "decoding %s: %v", req.SchemaName, err)
		r.logError(fields, wrapped, "parsing structured response")
		return wrapped
	}

	return nil
}

func (r *Remote) complete(ctx context.Context, params openai.ChatCompletionNewParams, fields logrus.Fields) (string, error) {
	completion, err := r.client.chat.New(ctx, params)
	if err != nil {
		classified := classifyRemote(err)
		r.logError(fields, classified, "requesting chat completion")
		return "", eris.Wrap(classified, "requesting chat completion")
	}

	if completion == nil || len(completion.Choices) == 0 {
		err := eris.Wrap(ErrParse, "completion returned no choices")
		r.logError(fields, err, "processing chat completion")
		return "", err
	}

	choice := completion.Choices[0]
	if strings.EqualFold(strings.TrimSpace(choice.FinishReason), "content_filter") {
		err := eris.Wrap(ErrUpstream, "request blocked by content filter")
		r.logError(fields, err, "completion blocked")
		return "", err
	}

	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		err := eris.Wrapf(ErrUpstream, "model refused: %s", refusal)
		r.logError(fields, err, "completion refused")
		return "", err
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		err := eris.Wrap(ErrParse, "completion content is empty")
		r.logError(fields, err, "processing chat completion")
		return "", err
	}

	return content, nil
}

func (r *Remote) pickModel(model string) string {
	if trimmed := strings.TrimSpace(model); trimmed != "" {
		return trimmed
	}
	return r.model
}

// stripFences removes a surrounding markdown code fence some models add around JSON.
func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
}

func (r *Remote) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil || err == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error()).WithField("component", "llm.remote")
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

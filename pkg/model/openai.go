package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4o

// OpenAIConfig wires an openai-go client into the Model interface. BaseURL
// also serves OpenAI-compatible gateways.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	HTTPClient *http.Client
}

type openaiCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type openaiModel struct {
	completions openaiCompletions
	model       string
	maxTokens   int
	maxRetries  int
}

// NewOpenAI constructs an OpenAI-backed Model.
func NewOpenAI(cfg OpenAIConfig) (Model, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)

	name := strings.TrimSpace(cfg.Model)
	if name == "" {
		name = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &openaiModel{
		completions: &client.Chat.Completions,
		model:       name,
		maxTokens:   maxTokens,
		maxRetries:  cfg.MaxRetries,
	}, nil
}

func (m *openaiModel) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := m.buildParams(req)
	if err != nil {
		return nil, err
	}
	var resp *Response
	err = doWithRetry(ctx, "openai", m.maxRetries, isOpenAIRetryable, func(ctx context.Context) error {
		completion, err := m.completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return errors.New("openai: response has no choices")
		}
		choice := completion.Choices[0]
		resp = &Response{
			Message:    convertOpenAIMessage(choice.Message),
			StopReason: choice.FinishReason,
			Usage: Usage{
				InputTokens:  int(completion.Usage.PromptTokens),
				OutputTokens: int(completion.Usage.CompletionTokens),
				TotalTokens:  int(completion.Usage.TotalTokens),
			},
		}
		return nil
	})
	return resp, err
}

func (m *openaiModel) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	name := strings.TrimSpace(req.Model)
	if name == "" {
		name = m.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if sys := strings.TrimSpace(req.System); sys != "" {
		msgs = append(msgs, openai.SystemMessage(sys))
	}
	for _, msg := range req.Messages {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			msgs = append(msgs, openai.SystemMessage(msg.Content))
		case "assistant":
			msgs = append(msgs, assistantParam(msg))
		case "tool":
			for _, call := range msg.ToolCalls {
				msgs = append(msgs, openai.ToolMessage(msg.Content, call.ID))
			}
		default:
			msgs = append(msgs, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               name,
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	for _, def := range req.Tools {
		if strings.TrimSpace(def.Name) == "" {
			continue
		}
		fn := openai.FunctionDefinitionParam{
			Name:       def.Name,
			Parameters: openai.FunctionParameters(def.Parameters),
		}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

func assistantParam(msg Message) openai.ChatCompletionMessageParamUnion {
	asst := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		asst.Content.OfString = openai.String(msg.Content)
	}
	for _, call := range msg.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil || call.Arguments == nil {
			args = []byte("{}")
		}
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func convertOpenAIMessage(msg openai.ChatCompletionMessage) Message {
	out := Message{Role: "assistant", Content: msg.Content}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: decodeJSON(json.RawMessage(call.Function.Arguments)),
		})
	}
	return out
}

func isOpenAIRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	return isTransientNetErr(err)
}

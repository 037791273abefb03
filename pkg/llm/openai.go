package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider using the OpenAI API (or any
// OpenAI-compatible endpoint via a base URL override).
type OpenAIProvider struct {
	client oai.Client
}

// OpenAIOption configures the OpenAIProvider.
type OpenAIOption func(*openaiConfig)

type openaiConfig struct {
	baseURL string
	timeout time.Duration
}

// WithOpenAIBaseURL overrides the default API base URL.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) { c.baseURL = url }
}

// WithOpenAITimeout sets a per-request HTTP timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) { c.timeout = d }
}

// NewOpenAI constructs an OpenAI-backed provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	cfg := &openaiConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &OpenAIProvider{client: oai.NewClient(reqOpts...)}, nil
}

// Chat sends a chat completion request and maps the response.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := buildOpenAIParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: ToolTypeFunction,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

func buildOpenAIParams(req ChatRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		msg, err := convertOpenAIMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	for _, t := range req.Tools {
		fnParams, err := toFunctionParameters(t.Function.Parameters)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Function.Name,
				Description: param.NewOpt(t.Function.Description),
				Parameters:  fnParams,
			},
		})
	}
	return params, nil
}

func convertOpenAIMessage(m Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case RoleUser:
		return oai.UserMessage(m.Content), nil
	case RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

// toFunctionParameters normalizes a schema value (typically a
// map[string]any, but any JSON-marshalable value is accepted) into the SDK's
// FunctionParameters map.
func toFunctionParameters(schema interface{}) (shared.FunctionParameters, error) {
	if schema == nil {
		return shared.FunctionParameters{"type": "object"}, nil
	}
	if m, ok := schema.(map[string]interface{}); ok {
		return shared.FunctionParameters(m), nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal tool schema: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("openai: tool schema is not an object: %w", err)
	}
	return shared.FunctionParameters(m), nil
}

// Package providers implements the Provider Client: one-shot and
// streaming chat against an OpenAI-style chat endpoint, with SSE
// tool-call delta reassembly.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/pkg/models"
)

// ToolChoice mirrors the three values the spec's CompletionRequest
// accepts.
type ToolChoice string

const (
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
)

// CompletionRequest carries all parameters for a chat call.
type CompletionRequest struct {
	Model       string
	Messages    []models.Message
	Tools       []models.LLMTool
	ToolChoice  ToolChoice
	Temperature float32
	MaxTokens   int
}

// Choice is one completion choice: a finish reason and an assistant
// message.
type Choice struct {
	FinishReason string
	Message      models.Message
}

// CompletionResponse is the parsed response shape, identical whether
// produced by chat or streamChat.
type CompletionResponse struct {
	ID      string
	Model   string
	Choices []Choice
}

// OnToken is invoked synchronously for each non-empty content delta
// during streamChat.
type OnToken func(delta string)

// Client is a Provider Client constructed from a ProviderConfig.
type Client struct {
	name    string
	cfg     models.ProviderConfig
	oai     *openai.Client
	timeout time.Duration

	// strictToolHistory marks providers whose chat endpoint 4xxs when a
	// role=tool message appears without a matching prior tool_calls
	// entry still in view ("provider quirks").
	strictToolHistory bool
}

// New constructs a Provider Client from a ProviderConfig. name identifies
// the provider for quirk-detection and logging (e.g. "openai",
// "openai-compatible", "strict-vendor").
func New(name string, cfg models.ProviderConfig) *Client {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:              name,
		cfg:               cfg,
		oai:               openai.NewClientWithConfig(oaiCfg),
		timeout:           timeout,
		strictToolHistory: strings.Contains(strings.ToLower(name), "strict"),
	}
}

// Name returns the provider's configured label.
func (c *Client) Name() string { return c.name }

// Chat performs a synchronous, non-streaming completion call.
func (c *Client) Chat(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	oaiReq := c.buildRequest(req, false)
	resp, err := c.oai.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return nil, c.classifyError(err)
	}
	return convertResponse(&resp), nil
}

// StreamChat opens a streaming chat call. onToken fires synchronously
// for every non-empty content delta in arrival order; StreamChat
// returns once the stream terminates, with the response assembled
// identically to Chat's non-streaming shape (assembly
// rules).
func (c *Client) StreamChat(ctx context.Context, req *CompletionRequest, onToken OnToken) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*c.timeout)
	defer cancel()

	oaiReq := c.buildRequest(req, true)
	stream, err := c.oai.CreateChatCompletionStream(ctx, oaiReq)
	if err != nil {
		return nil, c.classifyError(err)
	}
	defer stream.Close()

	var (
		content      strings.Builder
		finishReason string
		respID       string
		respModel    string
	)
	accumulators := newToolCallAccumulators()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, c.classifyError(err)
		}
		if respID == "" {
			respID = chunk.ID
		}
		if respModel == "" {
			respModel = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onToken != nil {
				onToken(choice.Delta.Content)
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			accumulators.apply(tc)
		}
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
	}

	msg := models.Message{Role: models.RoleAssistant}
	if calls := accumulators.toolCalls(); len(calls) > 0 {
		msg.ToolCalls = calls
	} else {
		msg.Content = content.String()
	}

	return &CompletionResponse{
		ID:    respID,
		Model: respModel,
		Choices: []Choice{{
			FinishReason: finishReason,
			Message:      msg,
		}},
	}, nil
}

func (c *Client) buildRequest(req *CompletionRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	messages := req.Messages
	if c.strictToolHistory {
		messages = filterToolMessages(messages)
	}

	oaiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(messages),
		Stream:      stream,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		oaiReq.Tools = convertTools(req.Tools)
		switch req.ToolChoice {
		case ToolChoiceNone:
			oaiReq.ToolChoice = "none"
		case ToolChoiceRequired:
			oaiReq.ToolChoice = "required"
		default:
			oaiReq.ToolChoice = "auto"
		}
	}
	return oaiReq
}

// filterToolMessages drops role=tool messages for providers whose strict
// tool-history validator otherwise 4xxs on them.
func filterToolMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleTool {
			continue
		}
		out = append(out, m)
	}
	return out
}

func convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		if m.Role == models.RoleTool {
			oaiMsg.ToolCallID = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
		}
		out = append(out, oaiMsg)
	}
	return out
}

func convertTools(tools []models.LLMTool) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.Function.Parameters) > 0 {
			_ = json.Unmarshal(t.Function.Parameters, &schema)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func convertResponse(resp *openai.ChatCompletionResponse) *CompletionResponse {
	out := &CompletionResponse{ID: resp.ID, Model: resp.Model}
	for _, choice := range resp.Choices {
		msg := models.Message{Role: models.RoleAssistant, Content: choice.Message.Content}
		if len(choice.Message.ToolCalls) > 0 {
			msg.ToolCalls = make([]models.ToolCall, len(choice.Message.ToolCalls))
			for i, tc := range choice.Message.ToolCalls {
				msg.ToolCalls[i] = models.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: models.ToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
		}
		out.Choices = append(out.Choices, Choice{
			FinishReason: string(choice.FinishReason),
			Message:      msg,
		})
	}
	return out
}

// classifyError maps a go-openai transport/API error onto the error
// taxonomy of.
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return relayerr.Wrap(relayerr.RateLimited, err, "rate limited").WithStatus(429)
		case apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 0:
			return relayerr.Wrap(relayerr.ProviderError, err, fmt.Sprintf("provider error from %s", c.name)).WithStatus(apiErr.HTTPStatusCode)
		default:
			return relayerr.Wrap(relayerr.ProviderError, err, fmt.Sprintf("provider error from %s", c.name)).WithStatus(apiErr.HTTPStatusCode)
		}
	}
	var reqErr *openai.RequestError
	if ok := asRequestError(err, &reqErr); ok {
		return relayerr.Wrap(relayerr.Network, err, "transport failure").WithStatus(reqErr.HTTPStatusCode)
	}
	if strings.Contains(err.Error(), "invalid character") || strings.Contains(err.Error(), "unexpected end of JSON") {
		return relayerr.Wrap(relayerr.ProtocolError, err, "malformed response")
	}
	return relayerr.Wrap(relayerr.Network, err, "transport failure")
}

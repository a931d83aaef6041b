package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatStreamer runs one streaming chat-completions round. Text increments
// are forwarded through onText as they arrive; the returned message carries
// the accumulated content and any tool calls the model requested.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, onText func(string)) (openai.ChatCompletionMessage, error)
}

// OpenAIStreamer implements ChatStreamer against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIStreamer struct {
	client *openai.Client
	model  string
}

// NewOpenAIStreamer builds a streaming generator. apiKey can be empty for
// local deployments without authentication.
func NewOpenAIStreamer(baseURL, apiKey, model string) (*OpenAIStreamer, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("generation model required")
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if url := strings.TrimRight(strings.TrimSpace(baseURL), "/"); url != "" {
		cfg.BaseURL = url
	}
	return &OpenAIStreamer{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// StreamChat streams one completion round, accumulating content and
// tool-call deltas.
func (g *OpenAIStreamer) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, onText func(string)) (openai.ChatCompletionMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	}
	if len(tools) > 0 {
		req.Tools = tools
	}
	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("create chat stream: %w", err)
	}
	defer stream.Close()

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	var content strings.Builder
	var toolCalls []openai.ToolCall
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			msg.Content = content.String()
			msg.ToolCalls = toolCalls
			return msg, fmt.Errorf("chat stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onText != nil {
				onText(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, openai.ToolCall{Type: openai.ToolTypeFunction})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Function.Name += tc.Function.Name
			}
			toolCalls[idx].Function.Arguments += tc.Function.Arguments
		}
	}
	msg.Content = content.String()
	msg.ToolCalls = toolCalls
	return msg, nil
}

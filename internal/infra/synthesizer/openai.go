// Package synthesizer provides chat.Synthesizer implementations.
package synthesizer

import (
	"context"
	"errors"
	"strings"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/chat"
	apperrors "github.com/ahmedafzal98/pdf-rag-api/pkg/errors"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/metrics"

	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/openai"
)

// OpenAISynthesizer answers questions with an OpenAI-compatible chat
// completions endpoint, given an already-assembled context string.
type OpenAISynthesizer struct {
	client *openai.Client
}

// NewOpenAISynthesizer constructs an OpenAISynthesizer.
func NewOpenAISynthesizer(client *openai.Client) *OpenAISynthesizer {
	return &OpenAISynthesizer{client: client}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, model, systemPrompt, context_, question string, temperature float32, maxTokens int) (chat.Answer, error) {
	userContent := "Context:\n" + context_ + "\n\nQuestion: " + question
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		code := apperrors.CodePermanentUpstream
		var statusErr *openai.StatusError
		if errors.As(err, &statusErr) && statusErr.Transient() {
			code = apperrors.CodeTransientUpstream
		}
		return chat.Answer{}, apperrors.Wrap(code, "chat completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return chat.Answer{}, apperrors.Wrap(apperrors.CodePermanentUpstream, "chat completion returned no choices", nil)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return chat.Answer{}, apperrors.Wrap(apperrors.CodeEmptyContent, "chat completion returned empty text", nil)
	}
	return chat.Answer{
		Text:  text,
		Model: resp.Model,
		Usage: metrics.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

var _ chat.Synthesizer = (*OpenAISynthesizer)(nil)

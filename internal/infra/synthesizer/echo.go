package synthesizer

import (
	"context"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/chat"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/metrics"
)

// EchoSynthesizer answers by echoing the question without calling any
// external model. Used when no upstream chat completion credentials are
// configured, so local development and tests never require network access.
type EchoSynthesizer struct{}

// Synthesize returns a fixed-shape answer that names the question asked.
func (EchoSynthesizer) Synthesize(_ context.Context, model, _, context_, question string, _ float32, _ int) (chat.Answer, error) {
	return chat.Answer{
		Text:  "Answer: " + question,
		Model: model,
		Usage: metrics.TokenUsage{},
	}, nil
}

var _ chat.Synthesizer = (*EchoSynthesizer)(nil)

// Package chat implements the ChatOrchestrator: composes retrieved chunks
// into a bounded context and invokes a Synthesizer to answer a question.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/retrieval"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/metrics"
)

// ContextSeparator joins chunk texts in the synthesizer prompt.
const ContextSeparator = "\n\n---\n\n"

// Defaults per spec §4.8/§6.
const (
	DefaultTemperature    = 0.7
	DefaultMaxOutputTokens = 500
	DefaultContextBudget  = 12000
	PreviewChars          = 200
	SystemPromptTemplate  = "You are a helpful assistant. Answer the question only using the provided context. " +
		"If the context is insufficient to answer, say so explicitly rather than guessing."
	NoHitsAnswer = "I could not find any information related to your question in the provided documents."
)

// Synthesizer maps (system prompt, context, question) to an answer and
// token accounting.
type Synthesizer interface {
	Synthesize(ctx context.Context, model, systemPrompt, context, question string, temperature float32, maxTokens int) (Answer, error)
}

// Answer is the raw Synthesizer output.
type Answer struct {
	Text  string
	Model string
	Usage metrics.TokenUsage
}

// Source annotates one retrieved chunk used as evidence for an answer.
type Source struct {
	DocumentID int64   `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	Preview    string  `json:"preview"`
}

// Response is the ChatOrchestrator's output.
type Response struct {
	Answer      string             `json:"answer"`
	Sources     []Source           `json:"sources"`
	ChunksFound int                `json:"chunks_found"`
	Model       string             `json:"model"`
	Usage       metrics.TokenUsage `json:"usage"`
}

// Config holds the tunables from spec §6.
type Config struct {
	Model          string
	Temperature    float32
	MaxOutputTokens int
	ContextBudget  int
}

func (c Config) withDefaults() Config {
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.ContextBudget == 0 {
		c.ContextBudget = DefaultContextBudget
	}
	return c
}

// Service implements the ChatOrchestrator.
type Service struct {
	retriever   *retrieval.Service
	synthesizer Synthesizer
	cfg         Config
	logger      *slog.Logger
}

// NewService constructs a ChatOrchestrator Service.
func NewService(retriever *retrieval.Service, synthesizer Synthesizer, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: retriever, synthesizer: synthesizer, cfg: cfg.withDefaults(), logger: logger.With("component", "chat.service")}
}

// Ask answers a question grounded in the user's documents.
func (s *Service) Ask(ctx context.Context, userID int64, question string, topK int, documentID *int64, model string) (Response, error) {
	results, err := s.retriever.Search(ctx, userID, question, topK, documentID)
	if err != nil {
		return Response{}, err
	}

	if len(results) == 0 {
		return Response{
			Answer:      NoHitsAnswer,
			Sources:     []Source{},
			ChunksFound: 0,
			Model:       model,
		}, nil
	}

	contextStr, used := buildContext(results, s.cfg.ContextBudget)

	if model == "" {
		model = s.cfg.Model
	}
	ans, err := s.synthesizer.Synthesize(ctx, model, SystemPromptTemplate, contextStr, question, s.cfg.Temperature, s.cfg.MaxOutputTokens)
	if err != nil {
		return Response{}, err
	}

	sources := make([]Source, used)
	for i := 0; i < used; i++ {
		sources[i] = Source{
			DocumentID: results[i].DocumentID,
			Filename:   results[i].Filename,
			ChunkIndex: results[i].ChunkIndex,
			Similarity: results[i].Similarity,
			Preview:    preview(results[i].TextContent, PreviewChars),
		}
	}

	return Response{
		Answer:      ans.Text,
		Sources:     sources,
		ChunksFound: used,
		Model:       ans.Model,
		Usage:       ans.Usage,
	}, nil
}

// buildContext joins chunk texts in rank order, annotated with source
// filename. It does not truncate individual chunks; it truncates from the
// tail of the list once the token budget (approximated by word count) is
// exceeded.
func buildContext(results []retrieval.Result, budgetTokens int) (string, int) {
	var b strings.Builder
	used := 0
	approxTokens := 0
	for i, r := range results {
		piece := fmt.Sprintf("[source: %s]\n%s", r.Filename, r.TextContent)
		pieceTokens := approxTokenCount(piece)
		if used > 0 && approxTokens+pieceTokens > budgetTokens {
			break
		}
		if i > 0 {
			b.WriteString(ContextSeparator)
		}
		b.WriteString(piece)
		approxTokens += pieceTokens
		used++
	}
	if used == 0 && len(results) > 0 {
		// Never drop the single best chunk even if it alone exceeds budget.
		first := results[0]
		b.WriteString(fmt.Sprintf("[source: %s]\n%s", first.Filename, first.TextContent))
		used = 1
	}
	return b.String(), used
}

func approxTokenCount(s string) int {
	words := len(strings.Fields(s))
	return (words*4 + 2) / 3
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

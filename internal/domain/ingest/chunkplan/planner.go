// Package chunkplan implements the deterministic, text-only splitter that
// decomposes parsed markdown into overlapping, size-bounded chunks. It is a
// pure function: no network I/O, no global state, byte-identical output for
// the same input and parameters.
package chunkplan

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultTargetTokens and DefaultOverlapTokens are the spec's
// document-invariant chunk parameters.
const (
	DefaultTargetTokens  = 1024
	DefaultOverlapTokens = 200
)

// Chunk is one output record: chunk_index is contiguous starting at 0.
type Chunk struct {
	ChunkIndex int
	Text       string
	TokenCount int
}

// Planner splits text into Chunks using a fixed target size and overlap.
// The zero value is not usable; construct with New.
type Planner struct {
	targetTokens  int
	overlapTokens int
	encoder       *tiktoken.Tiktoken
}

// New constructs a Planner. targetTokens/overlapTokens <= 0 fall back to the
// spec defaults. The tiktoken encoder is loaded best-effort; if it cannot be
// loaded (e.g. no network access to fetch the BPE ranks on first use), the
// planner falls back to whitespace-word counting, per §4.3.
func New(targetTokens, overlapTokens int) *Planner {
	if targetTokens <= 0 {
		targetTokens = DefaultTargetTokens
	}
	if overlapTokens <= 0 {
		overlapTokens = DefaultOverlapTokens
	}
	if overlapTokens >= targetTokens {
		overlapTokens = targetTokens / 2
	}
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Planner{targetTokens: targetTokens, overlapTokens: overlapTokens, encoder: enc}
}

// Plan splits text into chunks. Empty input yields an empty slice.
func (p *Planner) Plan(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	units := splitSentences(text)

	var chunks []Chunk
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		body := strings.TrimSpace(strings.Join(current, " "))
		if body == "" {
			current = nil
			currentTokens = 0
			return
		}
		chunks = append(chunks, Chunk{
			ChunkIndex: len(chunks),
			Text:       body,
			TokenCount: p.countTokens(body),
		})
		current = tailUnits(current, p.overlapTokens, p.countTokens)
		currentTokens = sumTokens(current, p.countTokens)
	}

	for _, unit := range units {
		unitTokens := p.countTokens(unit)
		if unitTokens > p.targetTokens {
			for _, piece := range forceSplit(unit, p.targetTokens, p.countTokens) {
				if currentTokens+p.countTokens(piece) > p.targetTokens && len(current) > 0 {
					flush()
				}
				current = append(current, piece)
				currentTokens += p.countTokens(piece)
			}
			continue
		}
		if currentTokens+unitTokens > p.targetTokens && len(current) > 0 {
			flush()
		}
		current = append(current, unit)
		currentTokens += unitTokens
	}
	flush()

	return chunks
}

func (p *Planner) countTokens(s string) int {
	if s == "" {
		return 0
	}
	if p.encoder != nil {
		return len(p.encoder.Encode(s, nil, nil))
	}
	// Whitespace-word fallback: one token approximately 3/4 of a word.
	words := len(strings.Fields(s))
	return (words*4 + 2) / 3
}

// splitSentences breaks text into sentence-ish units, preferring sentence
// boundaries (".", "!", "?", blank lines) over arbitrary cuts.
func splitSentences(text string) []string {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var units []string
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sentences := splitOnSentenceEnders(para)
		units = append(units, sentences...)
	}
	return units
}

func splitOnSentenceEnders(para string) []string {
	var out []string
	var buf strings.Builder
	for _, r := range para {
		buf.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
	}
	if rest := strings.TrimSpace(buf.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

// forceSplit breaks a single oversized unit at paragraph or whitespace
// boundaries so no piece exceeds targetTokens.
func forceSplit(unit string, targetTokens int, count func(string) int) []string {
	words := strings.Fields(unit)
	if len(words) == 0 {
		return nil
	}
	var pieces []string
	var buf []string
	for _, word := range words {
		candidate := append(append([]string{}, buf...), word)
		if count(strings.Join(candidate, " ")) > targetTokens && len(buf) > 0 {
			pieces = append(pieces, strings.Join(buf, " "))
			buf = []string{word}
			continue
		}
		buf = candidate
	}
	if len(buf) > 0 {
		pieces = append(pieces, strings.Join(buf, " "))
	}
	return pieces
}

// tailUnits returns the trailing words of the already-flushed units whose
// combined token count is approximately overlapTokens, used to seed the
// next chunk for adjacent-chunk overlap.
func tailUnits(units []string, overlapTokens int, count func(string) int) []string {
	if overlapTokens <= 0 || len(units) == 0 {
		return nil
	}
	joined := strings.Join(units, " ")
	words := strings.Fields(joined)
	if len(words) == 0 {
		return nil
	}
	var tail []string
	total := 0
	for i := len(words) - 1; i >= 0; i-- {
		tail = append([]string{words[i]}, tail...)
		total = count(strings.Join(tail, " "))
		if total >= overlapTokens {
			break
		}
	}
	if len(tail) == 0 {
		return nil
	}
	return []string{strings.Join(tail, " ")}
}

func sumTokens(units []string, count func(string) int) int {
	total := 0
	for _, u := range units {
		total += count(u)
	}
	return total
}

package chunkplan

import (
	"strings"
	"testing"
)

func TestPlanEmptyInputYieldsNoChunks(t *testing.T) {
	p := New(DefaultTargetTokens, DefaultOverlapTokens)
	if chunks := p.Plan(""); chunks != nil {
		t.Fatalf("expected nil chunks for empty input, got %v", chunks)
	}
	if chunks := p.Plan("   \n\n  "); chunks != nil {
		t.Fatalf("expected nil chunks for blank input, got %v", chunks)
	}
}

func TestPlanProducesContiguousIndices(t *testing.T) {
	p := New(50, 10)
	text := strings.Repeat("alpha beta gamma delta epsilon. ", 80)
	chunks := p.Plan(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d has non-contiguous index %d", i, c.ChunkIndex)
		}
		if strings.TrimSpace(c.Text) == "" {
			t.Fatalf("chunk %d has empty text", i)
		}
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	p := New(100, 20)
	text := "The quick brown fox jumps over the lazy dog. " + strings.Repeat("Another sentence follows here. ", 50)
	first := p.Plan(text)
	second := p.Plan(text)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text {
			t.Fatalf("non-deterministic chunk %d text", i)
		}
	}
}

func TestPlanForceSplitsOversizedSentence(t *testing.T) {
	p := New(20, 5)
	giant := strings.Repeat("word ", 200)
	chunks := p.Plan(giant)
	if len(chunks) < 2 {
		t.Fatalf("expected a single oversized sentence to be force-split, got %d chunks", len(chunks))
	}
}

func TestPlanHappyPathMeetsSpecExample(t *testing.T) {
	p := New(DefaultTargetTokens, DefaultOverlapTokens)
	text := strings.Repeat("alpha beta gamma ", 900) // ~2700 words, well past 2500 tokens
	chunks := p.Plan(text)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks for ~2500 tokens of repeated text, got %d", len(chunks))
	}
}

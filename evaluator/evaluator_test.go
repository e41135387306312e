package evaluator

import (
	"math"
	"testing"
)

func TestEvaluateExactMatch(t *testing.T) {
	corpus := Corpus{
		{"the", "quick", "brown", "fox"},
		{"the", "lazy", "dog", "sleeps"},
	}
	eval := NewNgramEvaluator()

	result, err := eval.Evaluate(corpus, corpus)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for _, key := range []string{"bleu-1", "bleu-2", "bleu-3", "bleu-4"} {
		score, ok := result[key]
		if !ok {
			t.Fatalf("Expected metric %s in result", key)
		}
		if math.Abs(score-1.0) > 1e-12 {
			t.Errorf("Expected %s of 1.0 for identical corpora, got %f", key, score)
		}
	}
}

func TestEvaluatePartialOverlap(t *testing.T) {
	generated := Corpus{{"the", "cat"}}
	reference := Corpus{{"the", "dog"}}

	result, err := NewNgramEvaluator(1, 2).Evaluate(generated, reference)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(result["bleu-1"]-0.5) > 1e-12 {
		t.Errorf("Expected bleu-1 of 0.5, got %f", result["bleu-1"])
	}
	if result["bleu-2"] != 0 {
		t.Errorf("Expected bleu-2 of 0, got %f", result["bleu-2"])
	}
}

func TestEvaluateClipping(t *testing.T) {
	// Repeating a token cannot score above its count in the reference.
	generated := Corpus{{"the", "the", "the", "the"}}
	reference := Corpus{{"the", "dog"}}

	result, err := NewNgramEvaluator(1).Evaluate(generated, reference)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(result["bleu-1"]-0.25) > 1e-12 {
		t.Errorf("Expected clipped bleu-1 of 0.25, got %f", result["bleu-1"])
	}
}

func TestEvaluateEmptyGenerated(t *testing.T) {
	if _, err := NewNgramEvaluator().Evaluate(nil, Corpus{{"the"}}); err == nil {
		t.Error("Expected an error for an empty generated corpus")
	}
}

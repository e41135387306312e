// Package evaluator scores generated text against a reference corpus using
// n-gram overlap statistics.
package evaluator

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Corpus is a collection of token sequences, one per generated or reference
// text.
type Corpus [][]string

// Result maps metric names (e.g. "bleu-2") to their scores.
type Result map[string]float64

// Evaluator scores a generated corpus against a reference corpus.
type Evaluator interface {
	Evaluate(generated, reference Corpus) (Result, error)
}

// NgramEvaluator computes modified n-gram precision of the generated corpus
// against the reference corpus for each configured n.
type NgramEvaluator struct {
	ngrams []int
}

// NewNgramEvaluator creates an evaluator for the given n-gram sizes. With no
// sizes it defaults to 1..4.
func NewNgramEvaluator(ngrams ...int) *NgramEvaluator {
	if len(ngrams) == 0 {
		ngrams = []int{1, 2, 3, 4}
	}
	return &NgramEvaluator{ngrams: ngrams}
}

// Evaluate scores the generated corpus. Each text contributes its clipped
// n-gram precision; the per-metric score is the corpus mean.
func (e *NgramEvaluator) Evaluate(generated, reference Corpus) (Result, error) {
	if len(generated) == 0 {
		return nil, fmt.Errorf("empty generated corpus")
	}
	if len(reference) == 0 {
		return nil, fmt.Errorf("empty reference corpus")
	}

	refCounts := make([]map[string]int, len(e.ngrams))
	for i, n := range e.ngrams {
		refCounts[i] = corpusNgramCounts(reference, n)
	}

	result := make(Result, len(e.ngrams))
	for i, n := range e.ngrams {
		precisions := make([]float64, 0, len(generated))
		for _, text := range generated {
			precisions = append(precisions, clippedPrecision(text, n, refCounts[i]))
		}
		result[fmt.Sprintf("bleu-%d", n)] = stat.Mean(precisions, nil)
	}
	return result, nil
}

// corpusNgramCounts collects the maximum occurrence count of every n-gram
// across the reference corpus.
func corpusNgramCounts(corpus Corpus, n int) map[string]int {
	counts := make(map[string]int)
	for _, text := range corpus {
		for gram, c := range ngramCounts(text, n) {
			if c > counts[gram] {
				counts[gram] = c
			}
		}
	}
	return counts
}

func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], " ")]++
	}
	return counts
}

// clippedPrecision is the fraction of the text's n-grams that appear in the
// reference, with per-gram counts clipped to the reference maximum.
func clippedPrecision(tokens []string, n int, ref map[string]int) float64 {
	counts := ngramCounts(tokens, n)
	var total, matched int
	for gram, c := range counts {
		total += c
		if rc, ok := ref[gram]; ok {
			matched += int(math.Min(float64(c), float64(rc)))
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

package textdata

import (
	"testing"

	"github.com/tsawler/go-textgen/evaluator"
)

func sampleDataset() *Dataset {
	sequences := [][]int{{1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 10}}
	reference := evaluator.Corpus{
		{"a", "b"}, {"c", "d"}, {"e", "f"}, {"g", "h"}, {"i", "j"},
	}
	return NewDataset(sequences, reference)
}

func TestLoaderBatching(t *testing.T) {
	loader := NewLoader(sampleDataset(), 2, false, 1)

	if loader.Len() != 3 {
		t.Errorf("Expected 3 batches from 5 texts, got %d", loader.Len())
	}

	sizes := []int{}
	total := 0
	for {
		batch, ok := loader.Next()
		if !ok {
			break
		}
		sizes = append(sizes, batch.Size())
		total += batch.Size()
	}
	if total != 5 {
		t.Errorf("Expected all 5 texts served, got %d", total)
	}
	// Without shuffling the final batch carries the remainder.
	if len(sizes) != 3 || sizes[2] != 1 {
		t.Errorf("Expected batch sizes [2 2 1], got %v", sizes)
	}
}

func TestLoaderReset(t *testing.T) {
	loader := NewLoader(sampleDataset(), 2, false, 1)
	for {
		if _, ok := loader.Next(); !ok {
			break
		}
	}
	if _, ok := loader.Next(); ok {
		t.Error("Expected exhaustion at the end of the epoch")
	}
	loader.Reset()
	batch, ok := loader.Next()
	if !ok || batch.Size() != 2 {
		t.Error("Expected a fresh epoch after Reset")
	}
}

func TestLoaderOrder(t *testing.T) {
	// An unshuffled loader preserves dataset order across epochs.
	loader := NewLoader(sampleDataset(), 5, false, 1)
	batch, _ := loader.Next()
	if batch.TargetIdx[0][0] != 1 || batch.TargetIdx[4][0] != 9 {
		t.Errorf("Expected dataset order, got %v", batch.TargetIdx)
	}

	// A shuffled loader with a fixed seed is reproducible.
	a := NewLoader(sampleDataset(), 5, true, 7)
	b := NewLoader(sampleDataset(), 5, true, 7)
	ba, _ := a.Next()
	bb, _ := b.Next()
	for i := range ba.TargetIdx {
		if ba.TargetIdx[i][0] != bb.TargetIdx[i][0] {
			t.Fatalf("Expected identical shuffles for identical seeds at %d", i)
		}
	}
}

func TestLoaderReference(t *testing.T) {
	ds := sampleDataset()
	loader := NewLoader(ds, 2, true, 1)
	ref := loader.GetReference()
	if len(ref) != 5 {
		t.Fatalf("Expected reference of 5 texts, got %d", len(ref))
	}
	// The reference order is independent of batch shuffling.
	if ref[0][0] != "a" {
		t.Errorf("Expected reference to stay in corpus order, got %v", ref[0])
	}
}

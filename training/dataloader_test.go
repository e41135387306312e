package training

import (
	"math/rand"
	"testing"

	"github.com/tsawler/go-textgen/nn"
)

func TestPadSequence(t *testing.T) {
	got := padSequence([]int{1, 2, 3}, 6, 0)
	want := []int{1, 2, 3, 0, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("Expected length %d, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	// Longer sequences are truncated to the fixed length.
	truncated := padSequence([]int{1, 2, 3, 4, 5}, 3, 0)
	if len(truncated) != 3 || truncated[2] != 3 {
		t.Errorf("Expected truncation to [1 2 3], got %v", truncated)
	}
}

func TestCollectRealData(t *testing.T) {
	loader := newFakeLoader(3, 2)
	rows := collectRealData(loader, 5, 9)
	if len(rows) != 6 {
		t.Fatalf("Expected 6 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if len(row) != 5 {
			t.Fatalf("Expected padded length 5, got %d", len(row))
		}
		if row[3] != 9 || row[4] != 9 {
			t.Errorf("Expected pad index 9 in tail, got %v", row)
		}
	}
}

func TestRowLoader(t *testing.T) {
	rows := [][]int{{1}, {2}, {3}, {4}, {5}}
	loader := newRowLoader(rows, 2, rand.New(rand.NewSource(7)))

	if loader.Len() != 2 {
		t.Errorf("Expected 2 full batches from 5 rows, got %d", loader.Len())
	}

	seen := 0
	for {
		batch, ok := loader.Next()
		if !ok {
			break
		}
		if batch.Size() != 2 {
			t.Errorf("Expected batch size 2, got %d", batch.Size())
		}
		seen++
	}
	// The trailing partial batch is dropped.
	if seen != 2 {
		t.Errorf("Expected 2 batches, got %d", seen)
	}

	loader.Reset()
	if _, ok := loader.Next(); !ok {
		t.Error("Expected batches again after Reset")
	}
}

func TestSampleReference(t *testing.T) {
	rows := [][]int{{1}, {2}, {3}}
	ref := sampleReference(rows, 5, rand.New(rand.NewSource(7)))
	if ref.Size() != 5 {
		t.Errorf("Expected reference of size 5, got %d", ref.Size())
	}
	for _, row := range ref.TargetIdx {
		if len(row) != 1 || row[0] < 1 || row[0] > 3 {
			t.Errorf("Expected sampled row from the source data, got %v", row)
		}
	}
}

func TestCyclicLoaderWraparound(t *testing.T) {
	inner := newFakeLoader(2, 1)
	cyc := newCyclicLoader(inner)

	for i := 0; i < 5; i++ {
		batch, err := cyc.Next()
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if batch == nil {
			t.Fatalf("Next %d returned nil batch", i)
		}
	}
}

func TestCyclicLoaderEmpty(t *testing.T) {
	cyc := newCyclicLoader(&fakeLoader{})
	if _, err := cyc.Next(); err == nil {
		t.Error("Expected an error from an empty loader")
	}
}

func TestBatchRows(t *testing.T) {
	batch := &nn.Batch{TargetIdx: [][]int{{1, 2}, {3}}}
	rows := batchRows(batch, 4, 0)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[1][0] != 3 || rows[1][1] != 0 {
		t.Errorf("Expected padded row [3 0 0 0], got %v", rows[1])
	}
}

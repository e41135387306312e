package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-textgen/nn"
)

// padSequence pads (or truncates) a token-id sequence to maxLength using
// padIdx.
func padSequence(seq []int, maxLength, padIdx int) []int {
	padded := make([]int, maxLength)
	n := copy(padded, seq)
	for i := n; i < maxLength; i++ {
		padded[i] = padIdx
	}
	return padded
}

// collectRealData gathers every target sequence from one full pass over the
// loader, padded to maxLength with padIdx. The loader is reset first, so the
// pass always covers the whole epoch.
func collectRealData(data nn.DataLoader, maxLength, padIdx int) [][]int {
	data.Reset()
	var rows [][]int
	for {
		batch, ok := data.Next()
		if !ok {
			break
		}
		for _, seq := range batch.TargetIdx {
			rows = append(rows, padSequence(seq, maxLength, padIdx))
		}
	}
	return rows
}

// rowLoader re-batches flat padded rows into fixed-size batches, shuffled on
// every Reset, dropping a trailing partial batch.
type rowLoader struct {
	rows      [][]int
	batchSize int
	rng       *rand.Rand
	order     []int
	pos       int
}

func newRowLoader(rows [][]int, batchSize int, rng *rand.Rand) *rowLoader {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	l := &rowLoader{rows: rows, batchSize: batchSize, rng: rng, order: order}
	l.Reset()
	return l
}

func (l *rowLoader) Len() int {
	return len(l.rows) / l.batchSize
}

func (l *rowLoader) Reset() {
	l.pos = 0
	l.rng.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
}

func (l *rowLoader) Next() (*nn.Batch, bool) {
	if l.pos+l.batchSize > len(l.order) {
		return nil, false // drop last partial batch
	}
	batch := &nn.Batch{TargetIdx: make([][]int, 0, l.batchSize)}
	for _, idx := range l.order[l.pos : l.pos+l.batchSize] {
		batch.TargetIdx = append(batch.TargetIdx, l.rows[idx])
	}
	l.pos += l.batchSize
	return batch, true
}

// batchRows converts sampled batch output back into flat rows, padded like
// the real data so fake and real mini-batches line up.
func batchRows(b *nn.Batch, maxLength, padIdx int) [][]int {
	rows := make([][]int, 0, len(b.TargetIdx))
	for _, seq := range b.TargetIdx {
		rows = append(rows, padSequence(seq, maxLength, padIdx))
	}
	return rows
}

// sampleReference draws a fixed-size uniform sample (with replacement) of
// rows for reference-set training.
func sampleReference(rows [][]int, size int, rng *rand.Rand) *nn.Batch {
	ref := &nn.Batch{TargetIdx: make([][]int, 0, size)}
	for i := 0; i < size; i++ {
		ref.TargetIdx = append(ref.TargetIdx, rows[rng.Intn(len(rows))])
	}
	return ref
}

// cyclicLoader wraps a loader with wraparound iteration: reaching the end of
// the data mid-phase is not an error, it restarts the loader from the
// beginning. Used by the interleaved adversarial variant, whose
// discriminator and generator streams exhaust independently.
type cyclicLoader struct {
	inner nn.DataLoader
}

func newCyclicLoader(inner nn.DataLoader) *cyclicLoader {
	inner.Reset()
	return &cyclicLoader{inner: inner}
}

// Next returns the next batch, wrapping around on exhaustion. It fails only
// when the underlying loader produces no batches at all.
func (c *cyclicLoader) Next() (*nn.Batch, error) {
	batch, ok := c.inner.Next()
	if !ok {
		c.inner.Reset()
		batch, ok = c.inner.Next()
		if !ok {
			return nil, fmt.Errorf("data loader produced no batches")
		}
	}
	return batch, nil
}

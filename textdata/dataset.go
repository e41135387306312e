package textdata

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/tsawler/go-textgen/evaluator"
	"github.com/tsawler/go-textgen/nn"
)

// Dataset holds a tokenized corpus: one token-id sequence per text, plus the
// original token strings used as the reference corpus at evaluation time.
type Dataset struct {
	sequences [][]int
	reference evaluator.Corpus
}

// LoadDataset reads one text per line from path and tokenizes it. Sequences
// longer than maxSeqLength tokens are truncated.
func LoadDataset(path string, tok *Tokenizer, maxSeqLength int) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %v", err)
	}
	defer f.Close()

	ds := &Dataset{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ids, err := tok.Encode(line)
		if err != nil {
			return nil, err
		}
		if maxSeqLength > 0 && len(ids) > maxSeqLength {
			ids = ids[:maxSeqLength]
		}
		ds.sequences = append(ds.sequences, ids)
		ds.reference = append(ds.reference, tok.Tokens(ids))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %v", err)
	}
	if len(ds.sequences) == 0 {
		return nil, fmt.Errorf("corpus %s contains no texts", path)
	}
	return ds, nil
}

// NewDataset builds a dataset directly from token-id sequences and their
// reference token strings.
func NewDataset(sequences [][]int, reference evaluator.Corpus) *Dataset {
	return &Dataset{sequences: sequences, reference: reference}
}

// Len returns the number of texts in the dataset.
func (ds *Dataset) Len() int {
	return len(ds.sequences)
}

// Loader batches a dataset for sequential iteration. It satisfies the
// trainer's data loader contract: batches are produced synchronously and the
// loader can be reset and re-iterated any number of times.
type Loader struct {
	dataset   *Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

// NewLoader creates a loader over ds with the given batch size. When shuffle
// is set, example order is re-randomized on every Reset.
func NewLoader(ds *Dataset, batchSize int, shuffle bool, seed int64) *Loader {
	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	l := &Loader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}
	l.Reset()
	return l
}

// Len returns the number of batches in one epoch.
func (l *Loader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Reset restarts iteration, reshuffling if configured.
func (l *Loader) Reset() {
	l.position = 0
	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

// Next returns the next batch, or (nil, false) at the end of the epoch.
func (l *Loader) Next() (*nn.Batch, bool) {
	if l.position >= len(l.indices) {
		return nil, false
	}
	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	batch := &nn.Batch{TargetIdx: make([][]int, 0, end-l.position)}
	for _, idx := range l.indices[l.position:end] {
		batch.TargetIdx = append(batch.TargetIdx, l.dataset.sequences[idx])
	}
	l.position = end
	return batch, true
}

// GetReference returns the reference corpus for evaluation.
func (l *Loader) GetReference() evaluator.Corpus {
	return l.dataset.reference
}

// Package textdata provides a reference implementation of the dataset
// collaborator: a BPE-tokenized text corpus batched for training and
// evaluation.
package textdata

import (
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/models"
	"github.com/sugarme/tokenizer/normalizers"
	"github.com/sugarme/tokenizer/pretokenizers"
	"github.com/sugarme/tokenizer/processors"
	"github.com/sugarme/tokenizer/trainers"
)

// Special token ids fixed by the trained vocabulary layout.
const (
	PadIdx = 0
	BosIdx = 1
	EosIdx = 2
	UnkIdx = 3
)

// Tokenizer wraps a byte-pair-encoding tokenizer and its vocabulary.
type Tokenizer struct {
	inner     *tk.Tokenizer
	tokenToID map[string]int
	idToToken []string
}

// TrainOrLoad loads a saved tokenizer from tokPath, or trains a BPE
// tokenizer on corpusPath and saves it there first.
func TrainOrLoad(corpusPath, tokPath string, vocabSize int) (*Tokenizer, error) {
	if _, err := os.Stat(tokPath); err == nil {
		inner, err := tk.FromFile(tokPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %v", err)
		}
		return fromInner(inner)
	}

	bpe := models.NewBPE()
	t := tk.NewTokenizer(bpe)

	t.WithNormalizer(normalizers.NewSequence(
		normalizers.NewNFKC(),
		normalizers.NewLowercase(),
	))
	t.WithPreTokenizer(pretokenizers.NewWhitespaceSplit())

	proc := processors.NewTemplateProcessing(
		"<bos> $A <eos>",
		"$A",
		map[string]int{
			"<bos>": BosIdx,
			"<eos>": EosIdx,
		},
	)
	t.WithPostProcessor(proc)

	tr := trainers.NewBpeTrainer()
	tr.VocabSize = vocabSize
	tr.SpecialTokens = []string{"<pad>", "<bos>", "<eos>", "<unk>"}

	if err := t.Train(tr, []string{corpusPath}); err != nil {
		return nil, fmt.Errorf("tokenizer training failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(tokPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tokenizer directory: %v", err)
	}
	if err := t.Save(tokPath); err != nil {
		return nil, fmt.Errorf("failed to save tokenizer: %v", err)
	}
	return fromInner(t)
}

func fromInner(inner *tk.Tokenizer) (*Tokenizer, error) {
	vocab := inner.GetVocab(true)
	idToToken := make([]string, len(vocab))
	tokenToID := make(map[string]int, len(vocab))
	for tok, id := range vocab {
		tokenToID[tok] = id
		if id >= 0 && id < len(idToToken) {
			idToToken[id] = tok
		}
	}
	return &Tokenizer{inner: inner, tokenToID: tokenToID, idToToken: idToToken}, nil
}

// VocabSize returns the vocabulary size.
func (t *Tokenizer) VocabSize() int {
	return len(t.idToToken)
}

// Encode converts raw text into token ids.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	enc, err := t.inner.EncodeSingle(text)
	if err != nil {
		return nil, fmt.Errorf("encode failed: %v", err)
	}
	ids := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		ids[i] = int(v)
	}
	return ids, nil
}

// Tokens converts token ids back into token strings. Unknown ids map to
// "<unk>".
func (t *Tokenizer) Tokens(ids []int) []string {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		if id >= 0 && id < len(t.idToToken) {
			tokens[i] = t.idToToken[id]
		} else {
			tokens[i] = "<unk>"
		}
	}
	return tokens
}

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/montanaflynn/stats"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The data path from a jiant-format corpus to per-batch tensors:
//
//	JSONL file -> JiantData (parallel slices) -> AlignedDataset -> Batches
//
// A corpus line holds one text and N targets; every target becomes its own
// sample with the text duplicated. That duplication is why alignment runs
// behind an LRU cache keyed by text: a document with thirty span annotations
// is tokenized once, not thirty times.
//
// Alignment is where samples die. A span annotation indexes whitespace words
// of the text, and after truncation to the fixed sequence length some words
// no longer have token positions. The policy, inherited deliberately, is
// per-sample silent exclusion: no error, no warning per sample, the sample
// just doesn't exist downstream. AlignStats carries the body count so the
// CLI can report it once; a probing result computed on 60% of the test set
// should not look identical to one computed on all of it.
//
// ===========================================================================

// JiantData holds a parsed corpus as parallel slices, one entry per target.
// Span2s is populated only from targets that carry a span2 field; for
// two-span tasks it must end up parallel to Span1s, which alignment checks.
type JiantData struct {
	Texts  []string
	Span1s [][2]int
	Span2s [][2]int
	Labels []string
}

// Len returns the number of samples (targets).
func (d *JiantData) Len() int {
	return len(d.Texts)
}

type jiantTarget struct {
	Span1 []int  `json:"span1"`
	Span2 []int  `json:"span2"`
	Label string `json:"label"`
}

type jiantLine struct {
	Text    string        `json:"text"`
	Targets []jiantTarget `json:"targets"`
}

// ReadJiantDataset parses a line-delimited JSON corpus. Each line:
//
//	{"text": ..., "targets": [{"span1": [a,b], "span2": [a,b]?, "label": ...}]}
//
// A missing file or malformed line is an error; there is no partial-line
// recovery. Blank lines are skipped so a trailing newline is not fatal.
func ReadJiantDataset(path string) (*JiantData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to open corpus: %w", err)
	}
	defer f.Close()

	data := &JiantData{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var parsed jiantLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			return nil, fmt.Errorf("dataset: line %d: %w", lineNo, err)
		}

		for ti, target := range parsed.Targets {
			if len(target.Span1) != 2 {
				return nil, fmt.Errorf("dataset: line %d target %d: span1 must have 2 elements, got %d", lineNo, ti, len(target.Span1))
			}
			if target.Span2 != nil && len(target.Span2) != 2 {
				return nil, fmt.Errorf("dataset: line %d target %d: span2 must have 2 elements, got %d", lineNo, ti, len(target.Span2))
			}

			data.Texts = append(data.Texts, parsed.Text)
			data.Span1s = append(data.Span1s, [2]int{target.Span1[0], target.Span1[1]})
			if target.Span2 != nil {
				data.Span2s = append(data.Span2s, [2]int{target.Span2[0], target.Span2[1]})
			}
			data.Labels = append(data.Labels, target.Label)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: error reading corpus: %w", err)
	}

	return data, nil
}

// LabelVocab is the fixed label-to-id mapping for one task. Built before
// training, never mutated during a sweep.
type LabelVocab struct {
	labels []string
	ids    map[string]int
}

// NewLabelVocab builds a vocabulary from an explicit ordered label list.
func NewLabelVocab(labels []string) (*LabelVocab, error) {
	v := &LabelVocab{ids: make(map[string]int, len(labels))}
	for _, label := range labels {
		if _, dup := v.ids[label]; dup {
			return nil, fmt.Errorf("dataset: duplicate label %q", label)
		}
		v.ids[label] = len(v.labels)
		v.labels = append(v.labels, label)
	}
	if len(v.labels) == 0 {
		return nil, fmt.Errorf("dataset: empty label vocabulary")
	}
	return v, nil
}

// LabelVocabFromData builds a vocabulary from observed labels in first-seen
// order. Used when the caller does not pin the mapping explicitly.
func LabelVocabFromData(labels []string) *LabelVocab {
	v := &LabelVocab{ids: make(map[string]int)}
	for _, label := range labels {
		if _, seen := v.ids[label]; !seen {
			v.ids[label] = len(v.labels)
			v.labels = append(v.labels, label)
		}
	}
	return v
}

// Size returns the number of labels.
func (v *LabelVocab) Size() int {
	return len(v.labels)
}

// ID returns the dense id of a label.
func (v *LabelVocab) ID(label string) (int, bool) {
	id, ok := v.ids[label]
	return id, ok
}

// Label returns the label string for an id.
func (v *LabelVocab) Label(id int) string {
	return v.labels[id]
}

// Labels returns the ordered label list.
func (v *LabelVocab) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

// OneHot returns the one-hot encoding of a label.
func (v *LabelVocab) OneHot(label string) ([]float64, error) {
	id, ok := v.ids[label]
	if !ok {
		return nil, fmt.Errorf("dataset: unknown label %q", label)
	}
	vec := make([]float64, len(v.labels))
	vec[id] = 1.0
	return vec, nil
}

// AlignedSample is one preprocessed sample: fixed-length token ids, span
// masks over token positions, and a one-hot label. Immutable once built.
type AlignedSample struct {
	TokenIDs  []int
	Mask      []int // attention mask, 1 for real tokens
	Span1Mask []bool
	Span2Mask []bool // nil for single-span tasks
	Label     []float64
}

// AlignedDataset is the aligned, training-ready form of a corpus.
type AlignedDataset struct {
	Samples   []AlignedSample
	NumLabels int
	SeqLen    int
	TwoSpan   bool
}

// Len returns the number of aligned samples.
func (d *AlignedDataset) Len() int {
	return len(d.Samples)
}

// AlignStats counts what alignment kept and dropped, plus the real-token
// length of every kept sample for the length distribution report.
type AlignStats struct {
	Total     int
	Kept      int
	Dropped   int
	TokenLens []float64
}

// Summary formats kept/dropped counts and token-length statistics.
func (s *AlignStats) Summary() string {
	if s.Kept == 0 {
		return fmt.Sprintf("kept 0/%d samples (all dropped during span alignment)", s.Total)
	}

	mean, _ := stats.Mean(s.TokenLens)
	p90, _ := stats.Percentile(s.TokenLens, 90)
	return fmt.Sprintf("kept %d/%d samples (%d dropped), token length mean %.1f p90 %.0f",
		s.Kept, s.Total, s.Dropped, mean, p90)
}

// alignCacheSize bounds the tokenization cache. Corpora repeat texts far
// more than they repeat distinct ones, so even a modest cache removes nearly
// all duplicate tokenizer work.
const alignCacheSize = 4096

// AlignDataset tokenizes every sample's text (cached per distinct text),
// resolves its word spans to token spans and builds the fixed-length masks.
//
// For span [a, b): both the word at index a and the word at index b must
// resolve through the word-to-token table; the mask covers
// [resolve(a).Start, resolve(b).End). If either lookup fails (the word was
// cut off by truncation, or index b is past the last word) the sample is
// silently dropped and counted. Two-span tasks resolve all four boundaries;
// any single failure drops the sample.
func AlignDataset(wp *WordPiece, data *JiantData, vocab *LabelVocab, maxSeqLen int, twoSpan bool) (*AlignedDataset, *AlignStats, error) {
	if twoSpan && len(data.Span2s) != len(data.Span1s) {
		return nil, nil, fmt.Errorf("dataset: two_span task but only %d of %d targets carry span2", len(data.Span2s), len(data.Span1s))
	}

	cache, err := lru.New(alignCacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: failed to create tokenization cache: %w", err)
	}

	encode := func(text string) Encoding {
		if cached, ok := cache.Get(text); ok {
			return cached.(Encoding)
		}
		enc := wp.Encode(text, maxSeqLen)
		cache.Add(text, enc)
		return enc
	}

	out := &AlignedDataset{
		NumLabels: vocab.Size(),
		SeqLen:    maxSeqLen,
		TwoSpan:   twoSpan,
	}
	alignStats := &AlignStats{Total: data.Len()}

	for i := 0; i < data.Len(); i++ {
		enc := encode(data.Texts[i])

		span1Mask, ok := spanMask(&enc, data.Span1s[i], maxSeqLen)
		if !ok {
			alignStats.Dropped++
			continue
		}

		var span2Mask []bool
		if twoSpan {
			span2Mask, ok = spanMask(&enc, data.Span2s[i], maxSeqLen)
			if !ok {
				alignStats.Dropped++
				continue
			}
		}

		label, err := vocab.OneHot(data.Labels[i])
		if err != nil {
			return nil, nil, fmt.Errorf("%w (sample %d)", err, i)
		}

		realTokens := 0
		for _, m := range enc.AttentionMask {
			realTokens += m
		}

		out.Samples = append(out.Samples, AlignedSample{
			TokenIDs:  enc.IDs,
			Mask:      enc.AttentionMask,
			Span1Mask: span1Mask,
			Span2Mask: span2Mask,
			Label:     label,
		})
		alignStats.Kept++
		alignStats.TokenLens = append(alignStats.TokenLens, float64(realTokens))
	}

	return out, alignStats, nil
}

// spanMask resolves one word span to a token mask, or reports failure.
func spanMask(enc *Encoding, span [2]int, maxSeqLen int) ([]bool, bool) {
	start, ok := enc.WordToTokens(span[0])
	if !ok {
		return nil, false
	}
	end, ok := enc.WordToTokens(span[1])
	if !ok {
		return nil, false
	}

	mask := make([]bool, maxSeqLen)
	for p := start.Start; p < end.End; p++ {
		mask[p] = true
	}
	return mask, true
}

// Batch is one mini-batch ready for the probe forward pass.
type Batch struct {
	Enc     *EncodedBatch
	Span1   [][]bool
	Span2   [][]bool // nil for single-span tasks
	Targets *Tensor  // (batch, numLabels) one-hot rows
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Enc.IDs)
}

// Batches splits the dataset into mini-batches. A non-nil src shuffles
// sample order first (the trainer passes a fresh permutation's source each
// epoch; eval and test pass nil for a stable order). The final batch may be
// short.
func (d *AlignedDataset) Batches(batchSize int, src *rand.Rand) []Batch {
	if batchSize <= 0 {
		panic("dataset: batch size must be positive")
	}

	order := make([]int, len(d.Samples))
	for i := range order {
		order[i] = i
	}
	if src != nil {
		src.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	var batches []Batch
	for begin := 0; begin < len(order); begin += batchSize {
		end := min(begin+batchSize, len(order))
		idx := order[begin:end]

		batch := Batch{
			Enc:     &EncodedBatch{IDs: make([][]int, len(idx)), Mask: make([][]int, len(idx))},
			Span1:   make([][]bool, len(idx)),
			Targets: NewTensor(len(idx), d.NumLabels),
		}
		if d.TwoSpan {
			batch.Span2 = make([][]bool, len(idx))
		}

		for bi, si := range idx {
			sample := d.Samples[si]
			batch.Enc.IDs[bi] = sample.TokenIDs
			batch.Enc.Mask[bi] = sample.Mask
			batch.Span1[bi] = sample.Span1Mask
			if d.TwoSpan {
				batch.Span2[bi] = sample.Span2Mask
			}
			copy(batch.Targets.data[bi*d.NumLabels:(bi+1)*d.NumLabels], sample.Label)
		}
		batches = append(batches, batch)
	}
	return batches
}

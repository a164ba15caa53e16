package main

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// A BERT-family encoder: the frozen backbone probes attach to and the body of
// the QA model. Architecture per layer is the classic post-norm encoder
// block:
//
//	x = LayerNorm(x + SelfAttention(x))
//	x = LayerNorm(x + FeedForward(x))
//
// with token + position (+ token-type, BERT only) embeddings and an embedding
// LayerNorm in front. Attention is bidirectional with a padding mask: padded
// KEY positions are pushed to -1e9 before the softmax so no real token ever
// attends to padding. There is deliberately no backward pass anywhere in this
// file; probing trains only the head, so the encoder exists purely as a
// forward function over frozen weights.
//
// The sweep's layer dimension comes from Truncated(k): a shallow view of the
// same encoder that runs only the first k blocks. All weight tensors are
// SHARED between the views. The invariant that makes this safe is that
// nothing in the probing path ever writes to an encoder tensor, so forty
// sweep iterations see identical weights without forty copies.
//
// Model families differ in embedding bookkeeping, not in block structure.
// The differences are resolved once, in ResolveFamily, from the model name
// the user passes in; after that everything is driven by EncoderConfig
// fields, never by string checks.
//
// ===========================================================================

// ModelFamily identifies the pretrained-model lineage an encoder follows.
type ModelFamily int

const (
	FamilyBERT ModelFamily = iota
	FamilyRoBERTa
)

// String returns the lowercase family name.
func (f ModelFamily) String() string {
	switch f {
	case FamilyBERT:
		return "bert"
	case FamilyRoBERTa:
		return "roberta"
	default:
		return fmt.Sprintf("ModelFamily(%d)", int(f))
	}
}

// familyTraits carries what actually differs between families.
type familyTraits struct {
	family        ModelFamily
	typeVocabSize int // 0 disables the token-type embedding table
	posOffset     int // first position id; RoBERTa reserves 0 and 1
	lowercase     bool
}

var familyRegistry = []struct {
	prefix string
	traits familyTraits
}{
	{"roberta", familyTraits{family: FamilyRoBERTa, typeVocabSize: 0, posOffset: 2, lowercase: false}},
	{"bert", familyTraits{family: FamilyBERT, typeVocabSize: 2, posOffset: 0, lowercase: true}},
}

// ResolveFamily maps a model identifier like "bert-base-uncased" or
// "roberta-large" to its family traits. Called once at configuration time;
// unknown identifiers are an error, not a silent default.
func ResolveFamily(modelName string) (familyTraits, error) {
	name := strings.ToLower(modelName)
	for _, entry := range familyRegistry {
		if strings.HasPrefix(name, entry.prefix) {
			return entry.traits, nil
		}
	}
	return familyTraits{}, fmt.Errorf("unknown model family for %q (known: roberta*, bert*)", modelName)
}

// EncoderConfig holds the encoder hyperparameters. It is serialized as the
// JSON header of checkpoint files, so field names are stable.
type EncoderConfig struct {
	Family        ModelFamily `json:"family"`
	VocabSize     int         `json:"vocab_size"`
	MaxSeqLen     int         `json:"max_seq_len"`
	HiddenDim     int         `json:"hidden_dim"`
	NumLayers     int         `json:"num_layers"`
	NumHeads      int         `json:"num_heads"`
	FFDim         int         `json:"ff_dim"`
	TypeVocabSize int         `json:"type_vocab_size"` // 0 = no token-type table
	PosOffset     int         `json:"pos_offset"`
	LayerNormEps  float64     `json:"layer_norm_eps"`
}

// DefaultEncoderConfig returns a small encoder for the given family and
// vocabulary, sized so a probing sweep finishes in minutes on a laptop CPU.
func DefaultEncoderConfig(traits familyTraits, vocabSize int) EncoderConfig {
	return EncoderConfig{
		Family:        traits.family,
		VocabSize:     vocabSize,
		MaxSeqLen:     128,
		HiddenDim:     128,
		NumLayers:     6,
		NumHeads:      4,
		FFDim:         512,
		TypeVocabSize: traits.typeVocabSize,
		PosOffset:     traits.posOffset,
		LayerNormEps:  1e-12,
	}
}

// EncodedBatch is the encoder's input: one row of ids and one attention mask
// per sequence, all the same length. TypeIDs is optional (QA uses it to mark
// question vs context); nil means all zeros.
type EncodedBatch struct {
	IDs     [][]int
	Mask    [][]int
	TypeIDs [][]int
}

// SeqLen returns the (uniform) sequence length of the batch.
func (b *EncodedBatch) SeqLen() int {
	if len(b.IDs) == 0 {
		return 0
	}
	return len(b.IDs[0])
}

// LayerNorm normalizes each row to zero mean and unit variance, then applies
// the learned scale and shift.
type LayerNorm struct {
	dim   int
	eps   float64
	gamma *Tensor
	beta  *Tensor
}

// NewLayerNorm creates an identity-initialized LayerNorm.
func NewLayerNorm(dim int, eps float64) *LayerNorm {
	gamma := NewTensor(dim)
	beta := NewTensor(dim)
	for i := 0; i < dim; i++ {
		gamma.data[i] = 1.0
	}
	return &LayerNorm{dim: dim, eps: eps, gamma: gamma, beta: beta}
}

// Forward applies layer normalization row by row.
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("encoder: LayerNorm input must be 2D")
	}

	rows, features := x.shape[0], x.shape[1]
	out := NewTensor(rows, features)

	for i := 0; i < rows; i++ {
		row := x.data[i*features : (i+1)*features]

		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(features)

		variance := 0.0
		for _, v := range row {
			diff := v - mean
			variance += diff * diff
		}
		variance /= float64(features)

		std := math.Sqrt(variance + ln.eps)
		for j, v := range row {
			out.data[i*features+j] = (v-mean)/std*ln.gamma.data[j] + ln.beta.data[j]
		}
	}
	return out
}

// Attention is bidirectional multi-head self-attention with a padding mask.
type Attention struct {
	hiddenDim int
	numHeads  int
	headDim   int

	wq, bq *Tensor
	wk, bk *Tensor
	wv, bv *Tensor
	wo, bo *Tensor
}

// NewAttention creates an attention layer with weights drawn from src.
func NewAttention(hiddenDim, numHeads int, src *rand.Rand) *Attention {
	if hiddenDim%numHeads != 0 {
		panic(fmt.Sprintf("encoder: hiddenDim (%d) must be divisible by numHeads (%d)", hiddenDim, numHeads))
	}

	return &Attention{
		hiddenDim: hiddenDim,
		numHeads:  numHeads,
		headDim:   hiddenDim / numHeads,
		wq:        newTensorRandFrom(src, hiddenDim, hiddenDim),
		bq:        NewTensor(hiddenDim),
		wk:        newTensorRandFrom(src, hiddenDim, hiddenDim),
		bk:        NewTensor(hiddenDim),
		wv:        newTensorRandFrom(src, hiddenDim, hiddenDim),
		bv:        NewTensor(hiddenDim),
		wo:        newTensorRandFrom(src, hiddenDim, hiddenDim),
		bo:        NewTensor(hiddenDim),
	}
}

// Forward computes attention for one sequence.
// x: (seqLen, hiddenDim); maskAdd: per-position 0 (real) or -1e9 (padding),
// added to every score column before the softmax.
func (a *Attention) Forward(x *Tensor, maskAdd []float64) *Tensor {
	seqLen := x.shape[0]

	q := AddBias(MatMul(x, a.wq), a.bq)
	k := AddBias(MatMul(x, a.wk), a.bk)
	v := AddBias(MatMul(x, a.wv), a.bv)

	concat := NewTensor(seqLen, a.hiddenDim)
	scale := 1.0 / math.Sqrt(float64(a.headDim))

	for h := 0; h < a.numHeads; h++ {
		qh := a.headSlice(q, h)
		kh := a.headSlice(k, h)
		vh := a.headSlice(v, h)

		scores := Scale(MatMul(qh, Transpose(kh)), scale) // (seqLen, seqLen)
		for i := 0; i < seqLen; i++ {
			for j := 0; j < seqLen; j++ {
				scores.data[i*seqLen+j] += maskAdd[j]
			}
		}

		weights := Softmax(scores)
		headOut := MatMul(weights, vh) // (seqLen, headDim)

		base := h * a.headDim
		for i := 0; i < seqLen; i++ {
			copy(concat.data[i*a.hiddenDim+base:i*a.hiddenDim+base+a.headDim], headOut.data[i*a.headDim:(i+1)*a.headDim])
		}
	}

	return AddBias(MatMul(concat, a.wo), a.bo)
}

// headSlice copies head h's columns out of a (seqLen, hiddenDim) tensor.
func (a *Attention) headSlice(x *Tensor, h int) *Tensor {
	seqLen := x.shape[0]
	out := NewTensor(seqLen, a.headDim)
	base := h * a.headDim
	for i := 0; i < seqLen; i++ {
		copy(out.data[i*a.headDim:(i+1)*a.headDim], x.data[i*a.hiddenDim+base:i*a.hiddenDim+base+a.headDim])
	}
	return out
}

// FeedForward is the position-wise MLP: GELU(x@W1 + b1)@W2 + b2.
type FeedForward struct {
	w1, b1 *Tensor
	w2, b2 *Tensor
}

// NewFeedForward creates a feed-forward layer with weights drawn from src.
func NewFeedForward(hiddenDim, ffDim int, src *rand.Rand) *FeedForward {
	return &FeedForward{
		w1: newTensorRandFrom(src, hiddenDim, ffDim),
		b1: NewTensor(ffDim),
		w2: newTensorRandFrom(src, ffDim, hiddenDim),
		b2: NewTensor(hiddenDim),
	}
}

// Forward applies the feed-forward network.
func (ff *FeedForward) Forward(x *Tensor) *Tensor {
	hidden := GELU(AddBias(MatMul(x, ff.w1), ff.b1))
	return AddBias(MatMul(hidden, ff.w2), ff.b2)
}

// EncoderBlock is one post-norm encoder layer.
type EncoderBlock struct {
	attn *Attention
	ln1  *LayerNorm
	ff   *FeedForward
	ln2  *LayerNorm
}

// NewEncoderBlock creates one block with weights drawn from src.
func NewEncoderBlock(cfg EncoderConfig, src *rand.Rand) *EncoderBlock {
	return &EncoderBlock{
		attn: NewAttention(cfg.HiddenDim, cfg.NumHeads, src),
		ln1:  NewLayerNorm(cfg.HiddenDim, cfg.LayerNormEps),
		ff:   NewFeedForward(cfg.HiddenDim, cfg.FFDim, src),
		ln2:  NewLayerNorm(cfg.HiddenDim, cfg.LayerNormEps),
	}
}

// Forward applies attention and feed-forward, each with residual then norm.
func (b *EncoderBlock) Forward(x *Tensor, maskAdd []float64) *Tensor {
	x = b.ln1.Forward(Add(x, b.attn.Forward(x, maskAdd)))
	x = b.ln2.Forward(Add(x, b.ff.Forward(x)))
	return x
}

// Encoder is the full embedding + block stack.
type Encoder struct {
	config EncoderConfig

	tokenEmbed *Tensor // (vocabSize, hiddenDim)
	posEmbed   *Tensor // (maxSeqLen + posOffset, hiddenDim)
	typeEmbed  *Tensor // (typeVocabSize, hiddenDim), nil when disabled
	embedNorm  *LayerNorm

	blocks []*EncoderBlock
}

// NewEncoder creates a randomly initialized encoder. The same seed always
// produces the same weights.
func NewEncoder(cfg EncoderConfig, seed int64) *Encoder {
	src := rand.New(rand.NewSource(seed))

	enc := &Encoder{
		config:     cfg,
		tokenEmbed: newTensorRandFrom(src, cfg.VocabSize, cfg.HiddenDim),
		posEmbed:   newTensorRandFrom(src, cfg.MaxSeqLen+cfg.PosOffset, cfg.HiddenDim),
		embedNorm:  NewLayerNorm(cfg.HiddenDim, cfg.LayerNormEps),
		blocks:     make([]*EncoderBlock, cfg.NumLayers),
	}
	if cfg.TypeVocabSize > 0 {
		enc.typeEmbed = newTensorRandFrom(src, cfg.TypeVocabSize, cfg.HiddenDim)
	}
	for i := range enc.blocks {
		enc.blocks[i] = NewEncoderBlock(cfg, src)
	}
	return enc
}

// Config returns the encoder configuration.
func (e *Encoder) Config() EncoderConfig {
	return e.config
}

// NumLayers returns the depth of this (possibly truncated) encoder.
func (e *Encoder) NumLayers() int {
	return len(e.blocks)
}

// Truncated returns a view running only the first k blocks. The view SHARES
// all weight tensors with the receiver; probing relies on those weights
// staying untouched, which holds because nothing in this program writes to
// encoder tensors after construction.
func (e *Encoder) Truncated(k int) *Encoder {
	if k < 0 || k > len(e.blocks) {
		panic(fmt.Sprintf("encoder: cannot truncate %d-layer encoder to %d", len(e.blocks), k))
	}

	view := *e
	view.blocks = e.blocks[:k]
	view.config.NumLayers = k
	return &view
}

// Forward encodes a batch and returns the final hidden states as a
// (batch*seqLen, hiddenDim) tensor, rows grouped by sequence.
func (e *Encoder) Forward(batch *EncodedBatch) *Tensor {
	out, _ := e.forward(batch, false)
	return out
}

// ForwardHidden additionally returns every layer's output (index 0 is the
// embedding output, index i the output of block i), each shaped like the
// final output. Used by hidden-state extraction.
func (e *Encoder) ForwardHidden(batch *EncodedBatch) (*Tensor, []*Tensor) {
	return e.forward(batch, true)
}

func (e *Encoder) forward(batch *EncodedBatch, keepHidden bool) (*Tensor, []*Tensor) {
	numSeq := len(batch.IDs)
	if numSeq == 0 {
		panic("encoder: empty batch")
	}
	seqLen := batch.SeqLen()
	if seqLen > e.config.MaxSeqLen {
		panic(fmt.Sprintf("encoder: sequence length %d exceeds maximum %d", seqLen, e.config.MaxSeqLen))
	}

	out := NewTensor(numSeq*seqLen, e.config.HiddenDim)
	var hidden []*Tensor
	if keepHidden {
		hidden = make([]*Tensor, len(e.blocks)+1)
		for i := range hidden {
			hidden[i] = NewTensor(numSeq*seqLen, e.config.HiddenDim)
		}
	}

	for s := 0; s < numSeq; s++ {
		x := e.embed(batch, s, seqLen)

		maskAdd := make([]float64, seqLen)
		for j, m := range batch.Mask[s] {
			if m == 0 {
				maskAdd[j] = -1e9
			}
		}

		if keepHidden {
			copy(hidden[0].data[s*seqLen*e.config.HiddenDim:], x.data)
		}
		for li, block := range e.blocks {
			x = block.Forward(x, maskAdd)
			if keepHidden {
				copy(hidden[li+1].data[s*seqLen*e.config.HiddenDim:], x.data)
			}
		}

		copy(out.data[s*seqLen*e.config.HiddenDim:], x.data)
	}

	return out, hidden
}

// embed builds the (seqLen, hiddenDim) input for sequence s: token +
// position (+ type) embeddings, then the embedding LayerNorm.
func (e *Encoder) embed(batch *EncodedBatch, s, seqLen int) *Tensor {
	h := e.config.HiddenDim
	x := NewTensor(seqLen, h)

	for i, tokenID := range batch.IDs[s] {
		if tokenID < 0 || tokenID >= e.config.VocabSize {
			panic(fmt.Sprintf("encoder: token id %d out of vocabulary range [0,%d)", tokenID, e.config.VocabSize))
		}

		pos := i + e.config.PosOffset
		typeID := 0
		if batch.TypeIDs != nil {
			typeID = batch.TypeIDs[s][i]
		}

		for j := 0; j < h; j++ {
			v := e.tokenEmbed.data[tokenID*h+j] + e.posEmbed.data[pos*h+j]
			if e.typeEmbed != nil {
				v += e.typeEmbed.data[typeID*h+j]
			}
			x.data[i*h+j] = v
		}
	}

	return e.embedNorm.Forward(x)
}

// NumParams returns the total parameter count, truncation-aware.
func (e *Encoder) NumParams() int {
	total := e.tokenEmbed.Size() + e.posEmbed.Size()
	if e.typeEmbed != nil {
		total += e.typeEmbed.Size()
	}
	total += e.embedNorm.gamma.Size() + e.embedNorm.beta.Size()

	for _, b := range e.blocks {
		total += b.attn.wq.Size() + b.attn.bq.Size()
		total += b.attn.wk.Size() + b.attn.bk.Size()
		total += b.attn.wv.Size() + b.attn.bv.Size()
		total += b.attn.wo.Size() + b.attn.bo.Size()
		total += b.ln1.gamma.Size() + b.ln1.beta.Size()
		total += b.ff.w1.Size() + b.ff.b1.Size()
		total += b.ff.w2.Size() + b.ff.b2.Size()
		total += b.ln2.gamma.Size() + b.ln2.beta.Size()
	}
	return total
}

// tensors returns every weight tensor in the fixed checkpoint order.
// checkpoint.go iterates this list for both save and load; keep the order
// stable or existing model files stop loading.
func (e *Encoder) tensors() []namedTensor {
	list := []namedTensor{
		{"token_embed", e.tokenEmbed},
		{"pos_embed", e.posEmbed},
	}
	if e.typeEmbed != nil {
		list = append(list, namedTensor{"type_embed", e.typeEmbed})
	}
	list = append(list,
		namedTensor{"embed_norm.gamma", e.embedNorm.gamma},
		namedTensor{"embed_norm.beta", e.embedNorm.beta},
	)

	for i, b := range e.blocks {
		prefix := fmt.Sprintf("block%d.", i)
		list = append(list,
			namedTensor{prefix + "attn.wq", b.attn.wq},
			namedTensor{prefix + "attn.bq", b.attn.bq},
			namedTensor{prefix + "attn.wk", b.attn.wk},
			namedTensor{prefix + "attn.bk", b.attn.bk},
			namedTensor{prefix + "attn.wv", b.attn.wv},
			namedTensor{prefix + "attn.bv", b.attn.bv},
			namedTensor{prefix + "attn.wo", b.attn.wo},
			namedTensor{prefix + "attn.bo", b.attn.bo},
			namedTensor{prefix + "ln1.gamma", b.ln1.gamma},
			namedTensor{prefix + "ln1.beta", b.ln1.beta},
			namedTensor{prefix + "ff.w1", b.ff.w1},
			namedTensor{prefix + "ff.b1", b.ff.b1},
			namedTensor{prefix + "ff.w2", b.ff.w2},
			namedTensor{prefix + "ff.b2", b.ff.b2},
			namedTensor{prefix + "ln2.gamma", b.ln2.gamma},
			namedTensor{prefix + "ln2.beta", b.ln2.beta},
		)
	}
	return list
}

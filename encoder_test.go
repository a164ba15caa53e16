package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyEncoderConfig returns a config small enough for fast forward passes.
func tinyEncoderConfig(t *testing.T, modelName string) EncoderConfig {
	t.Helper()
	traits, err := ResolveFamily(modelName)
	require.NoError(t, err)

	cfg := DefaultEncoderConfig(traits, 31)
	cfg.MaxSeqLen = 16
	cfg.HiddenDim = 8
	cfg.NumLayers = 3
	cfg.NumHeads = 2
	cfg.FFDim = 16
	return cfg
}

func TestResolveFamily(t *testing.T) {
	bert, err := ResolveFamily("bert-base-uncased")
	require.NoError(t, err)
	assert.Equal(t, FamilyBERT, bert.family)
	assert.Equal(t, 2, bert.typeVocabSize)
	assert.Equal(t, 0, bert.posOffset)
	assert.True(t, bert.lowercase)

	rob, err := ResolveFamily("roberta-large")
	require.NoError(t, err)
	assert.Equal(t, FamilyRoBERTa, rob.family)
	assert.Equal(t, 0, rob.typeVocabSize)
	assert.Equal(t, 2, rob.posOffset)
	assert.False(t, rob.lowercase)

	// Matching is case-insensitive on the model name.
	_, err = ResolveFamily("BERT-Large-Cased")
	assert.NoError(t, err)

	_, err = ResolveFamily("gpt2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpt2")
}

func TestEncoderForwardShape(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 1)

	batch := &EncodedBatch{
		IDs: [][]int{
			{2, 5, 6, 3, 0, 0},
			{2, 7, 3, 0, 0, 0},
		},
		Mask: [][]int{
			{1, 1, 1, 1, 0, 0},
			{1, 1, 1, 0, 0, 0},
		},
	}

	out := enc.Forward(batch)
	assert.Equal(t, []int{12, cfg.HiddenDim}, out.Shape())
}

func TestEncoderDeterministic(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	batch := &EncodedBatch{
		IDs:  [][]int{{2, 5, 6, 3}},
		Mask: [][]int{{1, 1, 1, 1}},
	}

	a := NewEncoder(cfg, 7).Forward(batch)
	b := NewEncoder(cfg, 7).Forward(batch)
	c := NewEncoder(cfg, 8).Forward(batch)

	assert.Equal(t, a.data, b.data, "same seed must give identical outputs")
	assert.NotEqual(t, a.data, c.data, "different seeds must differ")
}

func TestEncoderPaddingInvariance(t *testing.T) {
	// Masked key positions get -1e9 before the softmax, which underflows
	// their attention weight to exactly zero. The ids sitting in padded
	// slots must therefore not influence any real position.
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 3)

	mask := [][]int{{1, 1, 1, 1, 0, 0}}
	a := enc.Forward(&EncodedBatch{IDs: [][]int{{2, 5, 6, 3, 0, 0}}, Mask: mask})
	b := enc.Forward(&EncodedBatch{IDs: [][]int{{2, 5, 6, 3, 9, 14}}, Mask: mask})

	for p := 0; p < 4; p++ {
		assert.Equal(t, a.Row(p), b.Row(p), "real position %d changed with padding content", p)
	}
}

func TestEncoderTruncated(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 5)

	view := enc.Truncated(2)
	assert.Equal(t, 2, view.NumLayers())
	assert.Equal(t, 2, view.Config().NumLayers)
	assert.Equal(t, 3, enc.NumLayers(), "truncation must not touch the original")

	// The view shares weight storage with the full encoder.
	assert.Same(t, enc.tokenEmbed, view.tokenEmbed)
	assert.Same(t, enc.blocks[0], view.blocks[0])
	assert.Same(t, enc.blocks[1], view.blocks[1])

	assert.Less(t, view.NumParams(), enc.NumParams())

	// Truncating to full depth is the identity computation.
	batch := &EncodedBatch{IDs: [][]int{{2, 5, 3}}, Mask: [][]int{{1, 1, 1}}}
	full := enc.Forward(batch)
	same := enc.Truncated(3).Forward(batch)
	assert.Equal(t, full.data, same.data)

	assert.Panics(t, func() { enc.Truncated(-1) })
	assert.Panics(t, func() { enc.Truncated(4) })
}

func TestEncoderTruncatedConsistentWithHidden(t *testing.T) {
	// Truncated(k).Forward must equal layer k of the full ForwardHidden
	// output, otherwise the sweep and hidden-state extraction disagree
	// about what "layer k" means.
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 11)

	batch := &EncodedBatch{IDs: [][]int{{2, 5, 6, 7, 3}}, Mask: [][]int{{1, 1, 1, 1, 1}}}

	final, hidden := enc.ForwardHidden(batch)
	require.Len(t, hidden, enc.NumLayers()+1)
	assert.Equal(t, final.data, hidden[len(hidden)-1].data)

	for k := 1; k <= enc.NumLayers(); k++ {
		got := enc.Truncated(k).Forward(batch)
		assert.Equal(t, hidden[k].data, got.data, "layer %d", k)
	}
}

func TestEncoderTypeEmbeddings(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 2)

	ids := [][]int{{2, 5, 6, 3}}
	mask := [][]int{{1, 1, 1, 1}}

	zero := enc.Forward(&EncodedBatch{IDs: ids, Mask: mask})
	marked := enc.Forward(&EncodedBatch{IDs: ids, Mask: mask, TypeIDs: [][]int{{0, 0, 1, 1}}})
	assert.NotEqual(t, zero.data, marked.data, "segment ids should change the encoding")

	// RoBERTa has no token-type table at all.
	robCfg := tinyEncoderConfig(t, "roberta-base")
	rob := NewEncoder(robCfg, 2)
	assert.Nil(t, rob.typeEmbed)
}

func TestEncoderPanics(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 1)

	assert.Panics(t, func() { enc.Forward(&EncodedBatch{}) }, "empty batch")

	long := make([]int, cfg.MaxSeqLen+1)
	longMask := make([]int, cfg.MaxSeqLen+1)
	for i := range long {
		long[i] = 2
		longMask[i] = 1
	}
	assert.Panics(t, func() {
		enc.Forward(&EncodedBatch{IDs: [][]int{long}, Mask: [][]int{longMask}})
	}, "over-length sequence")

	assert.Panics(t, func() {
		enc.Forward(&EncodedBatch{IDs: [][]int{{2, 99}}, Mask: [][]int{{1, 1}}})
	}, "out-of-vocabulary id")
}

func TestEncoderTensorsOrder(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 1)

	list := enc.tensors()
	// 2 embeddings + type table + embedding norm pair, then 16 per block.
	require.Len(t, list, 5+16*cfg.NumLayers)
	assert.Equal(t, "token_embed", list[0].name)
	assert.Equal(t, "pos_embed", list[1].name)
	assert.Equal(t, "type_embed", list[2].name)
	assert.Equal(t, "block0.attn.wq", list[5].name)

	rob := NewEncoder(tinyEncoderConfig(t, "roberta-base"), 1)
	robList := rob.tensors()
	require.Len(t, robList, 4+16*cfg.NumLayers)
	assert.Equal(t, "embed_norm.gamma", robList[2].name)
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderCheckpointRoundTrip(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	enc := NewEncoder(cfg, 42)

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, SaveEncoder(enc, path))

	loaded, err := LoadEncoder(path)
	require.NoError(t, err)

	assert.Equal(t, cfg, loaded.Config())

	saved := enc.tensors()
	got := loaded.tensors()
	require.Equal(t, len(saved), len(got))
	for i := range saved {
		assert.Equal(t, saved[i].t.data, got[i].t.data, "tensor %s", saved[i].name)
	}

	// Round-tripped weights must encode identically.
	batch := &EncodedBatch{IDs: [][]int{{2, 5, 6, 3}}, Mask: [][]int{{1, 1, 1, 1}}}
	assert.Equal(t, enc.Forward(batch).data, loaded.Forward(batch).data)
}

func TestQACheckpointRoundTrip(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	model := NewQAModel(cfg, 42)

	path := filepath.Join(t.TempDir(), "qa.bin")
	require.NoError(t, SaveQAModel(model, path))

	loaded, err := LoadQAModel(path)
	require.NoError(t, err)

	saved := model.tensors()
	got := loaded.tensors()
	require.Equal(t, len(saved), len(got))
	for i := range saved {
		assert.Equal(t, saved[i].name, got[i].name)
		assert.Equal(t, saved[i].t.data, got[i].t.data, "tensor %s", saved[i].name)
	}
}

func TestCheckpointKindMismatch(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, SaveEncoder(NewEncoder(cfg, 1), path))

	_, err := LoadQAModel(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `kind "encoder"`)
}

func TestCheckpointTruncatedFile(t *testing.T) {
	cfg := tinyEncoderConfig(t, "bert-base-uncased")
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, SaveEncoder(NewEncoder(cfg, 1), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-8))

	_, err = LoadEncoder(path)
	require.Error(t, err)
	// The failing tensor is named so a corrupt file is diagnosable.
	assert.Contains(t, err.Error(), "ln2.beta")
}

func TestCheckpointMissingFile(t *testing.T) {
	_, err := LoadEncoder(filepath.Join(t.TempDir(), "absent.bin"))
	require.Error(t, err)
}

func TestCheckpointGarbageHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(path, []byte{7, 0, 0, 0, 'n', 'o', 't', ' ', 'j', 's', 'o'}, 0644))

	_, err := LoadEncoder(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header")
}

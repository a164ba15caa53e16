package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Model files use one binary layout:
//
//	uint32 little-endian header length
//	JSON header: {"kind": ..., "encoder": EncoderConfig}
//	every weight tensor as raw little-endian float64, in the fixed order
//	the model's tensors() method yields
//
// No magic number, no per-tensor framing: the header's config fully
// determines every tensor shape, so offsets are implicit. The cost is that
// reordering tensors() silently breaks old files, which is why both save
// and load iterate the SAME list.

const (
	checkpointKindEncoder = "encoder"
	checkpointKindQA      = "qa"
)

type checkpointHeader struct {
	Kind    string        `json:"kind"`
	Encoder EncoderConfig `json:"encoder"`
}

// namedTensor pairs a tensor with its checkpoint name, used in error
// messages when a file turns out short or foreign.
type namedTensor struct {
	name string
	t    *Tensor
}

// SaveEncoder writes an encoder checkpoint.
func SaveEncoder(e *Encoder, path string) error {
	return writeModelFile(path, checkpointHeader{Kind: checkpointKindEncoder, Encoder: e.config}, e.tensors())
}

// LoadEncoder reads an encoder checkpoint.
func LoadEncoder(path string) (*Encoder, error) {
	f, header, err := openModelFile(path, checkpointKindEncoder)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	enc := NewEncoder(header.Encoder, 0)
	if err := readTensors(f, enc.tensors()); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return enc, nil
}

// SaveQAModel writes a QA model checkpoint: encoder tensors followed by the
// span-logit head.
func SaveQAModel(m *QAModel, path string) error {
	return writeModelFile(path, checkpointHeader{Kind: checkpointKindQA, Encoder: m.enc.config}, m.tensors())
}

// LoadQAModel reads a QA model checkpoint.
func LoadQAModel(path string) (*QAModel, error) {
	f, header, err := openModelFile(path, checkpointKindQA)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := NewQAModel(header.Encoder, 0)
	if err := readTensors(f, m.tensors()); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return m, nil
}

func writeModelFile(path string, header checkpointHeader, tensors []namedTensor) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to create file: %w", err)
	}
	defer f.Close()

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to marshal header: %w", err)
	}

	if err := binary.Write(f, binary.LittleEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("checkpoint: failed to write header length: %w", err)
	}
	if _, err := f.Write(headerJSON); err != nil {
		return fmt.Errorf("checkpoint: failed to write header: %w", err)
	}

	for _, nt := range tensors {
		if err := binary.Write(f, binary.LittleEndian, nt.t.data); err != nil {
			return fmt.Errorf("checkpoint: failed to write %s: %w", nt.name, err)
		}
	}
	return nil
}

func openModelFile(path, wantKind string) (*os.File, checkpointHeader, error) {
	var header checkpointHeader

	f, err := os.Open(path)
	if err != nil {
		return nil, header, fmt.Errorf("checkpoint: failed to open file: %w", err)
	}

	var headerLen uint32
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		f.Close()
		return nil, header, fmt.Errorf("checkpoint %s: failed to read header length: %w", path, err)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerJSON); err != nil {
		f.Close()
		return nil, header, fmt.Errorf("checkpoint %s: failed to read header: %w", path, err)
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		f.Close()
		return nil, header, fmt.Errorf("checkpoint %s: failed to parse header: %w", path, err)
	}

	if header.Kind != wantKind {
		f.Close()
		return nil, header, fmt.Errorf("checkpoint %s: kind %q, want %q", path, header.Kind, wantKind)
	}
	if header.Encoder.VocabSize <= 0 || header.Encoder.HiddenDim <= 0 || header.Encoder.NumLayers < 0 {
		f.Close()
		return nil, header, fmt.Errorf("checkpoint %s: invalid encoder config: %w", path, ErrShapeMismatch)
	}

	return f, header, nil
}

func readTensors(r io.Reader, tensors []namedTensor) error {
	for _, nt := range tensors {
		if err := binary.Read(r, binary.LittleEndian, nt.t.data); err != nil {
			return fmt.Errorf("failed to read %s: %w", nt.name, err)
		}
	}
	return nil
}

package model

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/born-ml/born/tensor"
)

// Checkpoint layout:
//
//	magic "S4SC" | version uint32 | header size uint64 | JSON header | float32 data
//
// All integers and tensor data are little-endian. Tensors are stored in the
// order listed by the header, which is sorted by name.
const (
	checkpointMagic   = "S4SC"
	checkpointVersion = 1
)

// ErrBadCheckpoint is returned when a checkpoint file is malformed.
var ErrBadCheckpoint = errors.New("bad checkpoint")

// Header describes a checkpoint file.
type Header struct {
	Version   int               `json:"version"`
	ModelType string            `json:"model_type"`
	CreatedAt time.Time         `json:"created_at"`
	Tensors   []TensorMeta      `json:"tensors"`
	Metadata  map[string]string `json:"metadata"`
	Checksum  string            `json:"sha256"` // of the data section
}

// TensorMeta describes one stored tensor.
type TensorMeta struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`   // bytes
}

// WriteCheckpoint writes a float32 state dict to path. The file is written
// next to path and renamed into place, so readers never see a partial file.
func WriteCheckpoint(path string, state map[string]*tensor.RawTensor, modelType string, metadata map[string]string) error {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	slices.Sort(names)

	header := Header{
		Version:   checkpointVersion,
		ModelType: modelType,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	var data bytes.Buffer
	for _, name := range names {
		raw := state[name]
		if raw.DType() != tensor.Float32 {
			return fmt.Errorf("tensor %q: dtype %v, want float32", name, raw.DType())
		}
		offset := int64(data.Len())
		if err := binary.Write(&data, binary.LittleEndian, raw.AsFloat32()); err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			Shape:  slices.Clone([]int(raw.Shape())),
			Offset: offset,
			Size:   int64(data.Len()) - offset,
		})
	}
	sum := sha256.Sum256(data.Bytes())
	header.Checksum = hex.EncodeToString(sum[:])

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	w.WriteString(checkpointMagic)
	binary.Write(w, binary.LittleEndian, uint32(checkpointVersion))
	binary.Write(w, binary.LittleEndian, uint64(len(headerJSON)))
	w.Write(headerJSON)
	w.Write(data.Bytes())
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadCheckpoint reads a file written by WriteCheckpoint and returns its
// header and CPU state dict.
func ReadCheckpoint(path string) (Header, map[string]*tensor.RawTensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var fixed struct {
		Magic      [4]byte
		Version    uint32
		HeaderSize uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	if string(fixed.Magic[:]) != checkpointMagic {
		return Header{}, nil, fmt.Errorf("%w: magic %q", ErrBadCheckpoint, fixed.Magic[:])
	}
	if fixed.Version != checkpointVersion {
		return Header{}, nil, fmt.Errorf("%w: version %d", ErrBadCheckpoint, fixed.Version)
	}
	if fixed.HeaderSize > 1<<26 {
		return Header{}, nil, fmt.Errorf("%w: header size %d", ErrBadCheckpoint, fixed.HeaderSize)
	}

	headerJSON := make([]byte, fixed.HeaderSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return Header{}, nil, fmt.Errorf("%w: header: %v", ErrBadCheckpoint, err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Header{}, nil, fmt.Errorf("%w: header: %v", ErrBadCheckpoint, err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Header{}, nil, err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != header.Checksum {
		return Header{}, nil, fmt.Errorf("%w: checksum mismatch", ErrBadCheckpoint)
	}

	state := make(map[string]*tensor.RawTensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		end := meta.Offset + meta.Size
		if meta.Offset < 0 || end > int64(len(data)) {
			return Header{}, nil, fmt.Errorf("%w: tensor %q out of bounds", ErrBadCheckpoint, meta.Name)
		}
		raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), tensor.Float32, tensor.CPU)
		if err != nil {
			return Header{}, nil, fmt.Errorf("tensor %q: %w", meta.Name, err)
		}
		if int64(raw.ByteSize()) != meta.Size {
			return Header{}, nil, fmt.Errorf("%w: tensor %q has %d bytes for shape %v", ErrBadCheckpoint, meta.Name, meta.Size, meta.Shape)
		}
		err = binary.Read(bytes.NewReader(data[meta.Offset:end]), binary.LittleEndian, raw.AsFloat32())
		if err != nil {
			return Header{}, nil, fmt.Errorf("tensor %q: %w", meta.Name, err)
		}
		state[meta.Name] = raw
	}
	return header, state, nil
}

package tensor

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"
)

// safetensorsEntry describes one tensor within a safetensors header.
type safetensorsEntry struct {
	DType       string  `json:"dtype"`
	Shape       []int64 `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafetensors serializes the named tensors in the safetensors container
// format: an 8-byte little-endian header length, a JSON header mapping tensor
// names to dtype/shape/offsets, then the packed tensor payloads. Keys are
// written in sorted order so output is deterministic.
func WriteSafetensors(w io.Writer, tensors map[string]*Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name, t := range tensors {
		if t.IsPlaceholder() {
			return fmt.Errorf("cannot serialize placeholder tensor \"%s\"", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]interface{}, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	offset := int64(0)
	for _, name := range names {
		t := tensors[name]
		header[name] = safetensorsEntry{
			DType:       t.DType.SafetensorsName(),
			Shape:       append([]int64{}, t.Shape...),
			DataOffsets: [2]int64{offset, offset + t.NumBytes()},
		}
		offset += t.NumBytes()
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal safetensors header: %w", err)
	}

	var lengthPrefix [8]byte
	binary.LittleEndian.PutUint64(lengthPrefix[:], uint64(len(headerBytes)))
	if _, err = w.Write(lengthPrefix[:]); err != nil {
		return err
	}
	if _, err = w.Write(headerBytes); err != nil {
		return err
	}

	for _, name := range names {
		if _, err = w.Write(tensors[name].Data); err != nil {
			return fmt.Errorf("failed to write payload of tensor \"%s\": %w", name, err)
		}
	}

	return nil
}

// ReadSafetensors parses a safetensors container produced by WriteSafetensors
// (or any standard writer) into named tensors.
func ReadSafetensors(r io.Reader) (map[string]*Tensor, map[string]string, error) {
	var lengthPrefix [8]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to read safetensors header length: %w", err)
	}

	headerBytes := make([]byte, binary.LittleEndian.Uint64(lengthPrefix[:]))
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("failed to read safetensors header: %w", err)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, nil, fmt.Errorf("failed to parse safetensors header: %w", err)
	}

	metadata := make(map[string]string)
	entries := make(map[string]safetensorsEntry)
	for name, raw := range rawHeader {
		if name == "__metadata__" {
			if err := json.Unmarshal(raw, &metadata); err != nil {
				return nil, nil, fmt.Errorf("failed to parse safetensors metadata: %w", err)
			}
			continue
		}

		var entry safetensorsEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, nil, fmt.Errorf("failed to parse safetensors entry \"%s\": %w", name, err)
		}
		entries[name] = entry
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read safetensors payload: %w", err)
	}

	tensors := make(map[string]*Tensor, len(entries))
	for name, entry := range entries {
		dtype, err := DTypeFromSafetensorsName(entry.DType)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor \"%s\": %w", name, err)
		}

		start, end := entry.DataOffsets[0], entry.DataOffsets[1]
		if start < 0 || end < start || end > int64(len(payload)) {
			return nil, nil, fmt.Errorf("tensor \"%s\" has out-of-range data offsets [%d, %d)", name, start, end)
		}

		tensors[name] = &Tensor{
			Shape: entry.Shape,
			DType: dtype,
			Data:  append([]byte{}, payload[start:end]...),
		}
	}

	return tensors, metadata, nil
}

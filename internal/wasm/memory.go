package wasm

import (
	"errors"

	"github.com/tetratelabs/wazero/api"
)

var errNoMemory = errors.New("module defines no memory")

// StringSlice names a UTF-8 byte range inside linear memory.
type StringSlice struct {
	Offset uint32
	Length uint32
}

// Memory provides scoped access to a module's linear memory.
//
// The byte slices wazero hands out alias the module's backing buffer, and that
// buffer is replaced whenever the module grows its memory. Memory therefore
// never holds a slice: each operation resolves the module's current memory,
// acquires a view, uses it and drops it before returning. Data leaves a view
// only as a copy.
type Memory struct {
	module api.Module
}

// NewMemory creates a memory helper.
func NewMemory(module api.Module) *Memory {
	return &Memory{module: module}
}

// WithView runs fn with a view over [offset, offset+length) of the module's
// current memory. The view must not escape fn.
func (m *Memory) WithView(op string, offset, length uint32, fn func(view []byte) error) error {
	mem := m.module.Memory()
	if mem == nil {
		return &MemoryAccessError{Operation: op, Address: offset, Length: length, Err: errNoMemory}
	}
	view, ok := mem.Read(offset, length)
	if !ok {
		return &MemoryAccessError{Operation: op, Address: offset, Length: length}
	}
	return fn(view)
}

// ReadBytes copies length bytes starting at ptr.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, error) {
	var out []byte
	err := m.WithView("read", ptr, length, func(view []byte) error {
		out = make([]byte, len(view))
		copy(out, view)
		return nil
	})
	return out, err
}

// ReadString decodes the bytes named by s. The bytes are taken verbatim.
func (m *Memory) ReadString(s StringSlice) (string, error) {
	var out string
	err := m.WithView("read_string", s.Offset, s.Length, func(view []byte) error {
		out = string(view)
		return nil
	})
	return out, err
}

// WriteBytes copies data into memory starting at ptr.
func (m *Memory) WriteBytes(ptr uint32, data []byte) error {
	return m.WithView("write", ptr, uint32(len(data)), func(view []byte) error {
		copy(view, data)
		return nil
	})
}

// WriteUint64Le writes v little-endian at ptr.
func (m *Memory) WriteUint64Le(ptr uint32, v uint64) error {
	mem := m.module.Memory()
	if mem == nil {
		return &MemoryAccessError{Operation: "write_u64", Address: ptr, Length: 8, Err: errNoMemory}
	}
	if !mem.WriteUint64Le(ptr, v) {
		return &MemoryAccessError{Operation: "write_u64", Address: ptr, Length: 8}
	}
	return nil
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 {
	mem := m.module.Memory()
	if mem == nil {
		return 0
	}
	return mem.Size()
}

package engine

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/emhost"
	"github.com/wippyai/emhost/errors"
)

// WazeroMemory wraps wazero memory to implement emhost.Memory.
// Every access is bounds checked against the current memory size; nothing
// outside [offset, offset+length) is touched.
type WazeroMemory struct {
	mem api.Memory
}

// NewMemory wraps a guest memory. mem may be nil for guests that neither
// define nor import one; every access then fails.
func NewMemory(mem api.Memory) *WazeroMemory {
	return &WazeroMemory{mem: mem}
}

func (m *WazeroMemory) outOfBounds(op string, offset, length uint32) error {
	return errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
		Symbol(op).
		Value(offset).
		Detail("offset=%d length=%d size=%d", offset, length, m.Size()).
		Build()
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, m.outOfBounds("read", offset, length)
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.outOfBounds("read", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if m.mem == nil || !m.mem.Write(offset, data) {
		return m.outOfBounds("write", offset, uint32(len(data)))
	}
	return nil
}

func (m *WazeroMemory) ReadU8(offset uint32) (uint8, error) {
	if m.mem == nil {
		return 0, m.outOfBounds("read", offset, 1)
	}
	val, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, m.outOfBounds("read", offset, 1)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	if m.mem == nil {
		return 0, m.outOfBounds("read", offset, 4)
	}
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, m.outOfBounds("read", offset, 4)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU64(offset uint32) (uint64, error) {
	if m.mem == nil {
		return 0, m.outOfBounds("read", offset, 8)
	}
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, m.outOfBounds("read", offset, 8)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU8(offset uint32, value uint8) error {
	if m.mem == nil || !m.mem.WriteByte(offset, value) {
		return m.outOfBounds("write", offset, 1)
	}
	return nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if m.mem == nil || !m.mem.WriteUint32Le(offset, value) {
		return m.outOfBounds("write", offset, 4)
	}
	return nil
}

func (m *WazeroMemory) WriteU64(offset uint32, value uint64) error {
	if m.mem == nil || !m.mem.WriteUint64Le(offset, value) {
		return m.outOfBounds("write", offset, 8)
	}
	return nil
}

// ReadCString reads a NUL-terminated string. A string running off the end
// of memory is an error.
func (m *WazeroMemory) ReadCString(offset uint32) (string, error) {
	size := m.Size()
	if offset >= size {
		return "", m.outOfBounds("read", offset, 1)
	}
	data, _ := m.mem.Read(offset, size-offset)
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", m.outOfBounds("read", offset, size-offset)
	}
	return string(data[:end]), nil
}

// Copy moves n bytes from src to dst. Overlapping ranges behave like
// memmove.
func (m *WazeroMemory) Copy(dst, src, n uint32) error {
	if n == 0 {
		return nil
	}
	from, err := m.Read(src, n)
	if err != nil {
		return err
	}
	to, err := m.Read(dst, n)
	if err != nil {
		return m.outOfBounds("write", dst, n)
	}
	copy(to, from)
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Compile-time check that WazeroMemory implements emhost.Memory and MemorySizer
var _ emhost.Memory = (*WazeroMemory)(nil)
var _ emhost.MemorySizer = (*WazeroMemory)(nil)

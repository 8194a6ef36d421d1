// Package regstore provides register page backings for a ucan.Node: plain
// RAM pages, a bank that reads and updates several pages atomically, and
// pages persisted to disk.
package regstore

import (
	"sync"

	"github.com/notnil/ucan"
)

// PageSize is the number of registers on a page.
const PageSize = 256

// Memory is a page of byte registers held in RAM. It is safe for concurrent
// use by a node dispatching requests and local application code.
type Memory struct {
	mu       sync.RWMutex
	regs     [PageSize]byte
	readOnly bool
}

// NewMemory returns a zeroed page.
func NewMemory() *Memory {
	return &Memory{}
}

// NewReadOnly returns a page holding data from register 0 on that ignores
// remote writes.
func NewReadOnly(data []byte) *Memory {
	m := &Memory{readOnly: true}
	copy(m.regs[:], data)
	return m
}

// ReadRegister implements ucan.Page.
func (m *Memory) ReadRegister(_ ucan.Address, _, reg uint8) byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regs[reg]
}

// WriteRegister implements ucan.Page.
func (m *Memory) WriteRegister(_ ucan.Address, _, reg, value uint8) {
	if m.readOnly {
		return
	}
	m.mu.Lock()
	m.regs[reg] = value
	m.mu.Unlock()
}

// Get returns n registers starting at reg. Register numbers wrap at 255.
func (m *Memory) Get(reg uint8, n int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(reg, n)
}

func (m *Memory) get(reg uint8, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.regs[reg+uint8(i)]
	}
	return out
}

// Set stores data into consecutive registers starting at reg, bypassing the
// read-only flag. Register numbers wrap at 255.
func (m *Memory) Set(reg uint8, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(reg, data)
}

func (m *Memory) set(reg uint8, data []byte) {
	for i, v := range data {
		m.regs[reg+uint8(i)] = v
	}
}

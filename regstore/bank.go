package regstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"

	"github.com/notnil/ucan"
)

type entry struct {
	mem *Memory
	nvm *NVM
}

func (e entry) handlers() ucan.PageHandlers {
	if e.nvm != nil {
		return ucan.Handlers(e.nvm)
	}
	return ucan.Handlers(e.mem)
}

// Bank groups pages by number. Snapshot and Commit span several pages
// atomically, so application code sees the registers of related pages change
// together even while a node is serving remote requests.
type Bank struct {
	mu    sync.RWMutex
	pages map[uint8]entry
}

// NewBank returns an empty bank.
func NewBank() *Bank {
	return &Bank{pages: make(map[uint8]entry)}
}

// Add registers m as page. An existing page with the same number is replaced.
func (b *Bank) Add(page uint8, m *Memory) {
	b.mu.Lock()
	b.pages[page] = entry{mem: m}
	b.mu.Unlock()
}

// AddNVM registers a persisted page.
func (b *Bank) AddNVM(page uint8, p *NVM) {
	b.mu.Lock()
	b.pages[page] = entry{mem: p.Memory, nvm: p}
	b.mu.Unlock()
}

// Page returns the registers of page.
func (b *Bank) Page(page uint8) (*Memory, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.pages[page]
	return e.mem, ok
}

// Pages returns a node page table serving every page in the bank.
func (b *Bank) Pages() ucan.Pages {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(ucan.Pages, len(b.pages))
	for n, e := range b.pages {
		out[n] = e.handlers()
	}
	return out
}

// lookup resolves page numbers, deduplicated and in ascending order.
func (b *Bank) lookup(pages []uint8) ([]uint8, []entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sorted := append([]uint8(nil), pages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var nums []uint8
	var entries []entry
	for i, n := range sorted {
		if i > 0 && n == sorted[i-1] {
			continue
		}
		e, ok := b.pages[n]
		if !ok {
			return nil, nil, fmt.Errorf("regstore: no page %d", n)
		}
		nums = append(nums, n)
		entries = append(entries, e)
	}
	return nums, entries, nil
}

// Snapshot copies the given pages under one read lock acquisition.
func (b *Bank) Snapshot(pages ...uint8) (map[uint8][PageSize]byte, error) {
	nums, entries, err := b.lookup(pages)
	if err != nil {
		return nil, err
	}
	lockers := make([]sync.Locker, len(entries))
	for i, e := range entries {
		lockers[i] = e.mem.mu.RLocker()
	}
	ml := multilocker.New(lockers...)
	ml.Lock()
	defer ml.Unlock()

	out := make(map[uint8][PageSize]byte, len(entries))
	for i, e := range entries {
		out[nums[i]] = e.mem.regs
	}
	return out, nil
}

// Edit is one contiguous register update.
type Edit struct {
	Page uint8
	Reg  uint8
	Data []byte
}

// Commit applies edits with all touched pages write-locked at once. Edits to
// persisted pages are written through to the database.
func (b *Bank) Commit(edits ...Edit) error {
	pages := make([]uint8, len(edits))
	for i, e := range edits {
		pages[i] = e.Page
	}
	nums, entries, err := b.lookup(pages)
	if err != nil {
		return err
	}
	byPage := make(map[uint8]entry, len(nums))
	lockers := make([]sync.Locker, len(entries))
	for i, e := range entries {
		byPage[nums[i]] = e
		lockers[i] = &e.mem.mu
	}
	ml := multilocker.New(lockers...)
	ml.Lock()
	defer ml.Unlock()

	for _, ed := range edits {
		e := byPage[ed.Page]
		e.mem.set(ed.Reg, ed.Data)
		if e.nvm != nil {
			if err := e.nvm.persist(ed.Reg, ed.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

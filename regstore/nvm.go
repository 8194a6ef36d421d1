package regstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/asdine/storm/v3"

	"github.com/notnil/ucan"
)

// Store keeps non-volatile register pages in a storm database, one bucket per
// page and one key per register.
type Store struct {
	db  *storm.DB
	log *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("regstore: open %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{db: db, log: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func bucket(page uint8) string {
	return fmt.Sprintf("page-%d", page)
}

// Page loads page from the database. Registers never written read as zero.
func (s *Store) Page(page uint8) (*NVM, error) {
	p := &NVM{Memory: NewMemory(), store: s, page: page}
	for reg := 0; reg < PageSize; reg++ {
		var v byte
		err := s.db.Get(bucket(page), uint8(reg), &v)
		switch {
		case err == nil:
			p.regs[reg] = v
		case errors.Is(err, storm.ErrNotFound):
		default:
			return nil, fmt.Errorf("regstore: load page %d reg %d: %w", page, reg, err)
		}
	}
	return p, nil
}

// NVM is a RAM page whose writes are persisted.
type NVM struct {
	*Memory
	store *Store
	page  uint8
}

// WriteRegister implements ucan.Page. A value that cannot be persisted is
// still kept in RAM and the failure is logged.
func (p *NVM) WriteRegister(from ucan.Address, page, reg, value uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[reg] = value
	if err := p.persist(reg, []byte{value}); err != nil {
		p.store.log.Error("regstore persist failed", "page", p.page, "reg", reg, "error", err)
	}
}

// Set stores data locally and persists it.
func (p *NVM) Set(reg uint8, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(reg, data)
	return p.persist(reg, data)
}

// persist writes data through to the database. The caller holds the page
// write lock, so the database and RAM agree on the last writer.
func (p *NVM) persist(reg uint8, data []byte) error {
	for i, v := range data {
		if err := p.store.db.Set(bucket(p.page), reg+uint8(i), v); err != nil {
			return fmt.Errorf("regstore: persist page %d reg %d: %w", p.page, reg+uint8(i), err)
		}
	}
	return nil
}

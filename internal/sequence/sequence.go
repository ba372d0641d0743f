// Package sequence allocates document numbers per (company, branch, model, series).
package sequence

import (
	"context"
	"fmt"
	"sync"

	"github.com/rezonia/nfe-engine/internal/model"
)

// MaxNumber is the highest nNF the schema allows
const MaxNumber = 999999999

// Key identifies one numbering sequence
type Key struct {
	CompanyID string
	Branch    string
	Model     model.DocumentModel
	Series    int
}

// KeyOf returns the sequence key of a document header
func KeyOf(h model.Header) Key {
	m := h.Model
	if m == "" {
		m = model.ModelNFe
	}
	return Key{CompanyID: h.CompanyID, Branch: h.Branch, Model: m, Series: h.Series}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%d", k.CompanyID, k.Branch, k.Model, k.Series)
}

// Validate rejects keys that cannot identify a sequence
func (k Key) Validate() error {
	if k.CompanyID == "" {
		return model.NewValidationError("header.company_id", nil, "required", "sequence needs a company")
	}
	if k.Series < 0 || k.Series > 999 {
		return model.NewValidationError("header.series", k.Series, "range", "series must be 0..999")
	}
	return nil
}

// Allocator hands out the next number of a sequence. Implementations must
// serialize concurrent callers of the same key.
type Allocator interface {
	Next(ctx context.Context, key Key) (int64, error)
}

// Memory is an in-process allocator
type Memory struct {
	mu   sync.Mutex
	last map[Key]int64
}

// NewMemory creates an empty in-process allocator
func NewMemory() *Memory {
	return &Memory{last: make(map[Key]int64)}
}

// Seed sets the highest number already used, so the next call returns last+1
func (m *Memory) Seed(key Key, last int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last > m.last[key] {
		m.last[key] = last
	}
}

// Next implements Allocator
func (m *Memory) Next(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.last[key] + 1
	if n > MaxNumber {
		return 0, exhausted(key)
	}
	m.last[key] = n
	return n, nil
}

func exhausted(key Key) error {
	return model.NewValidationError("header.number", key.String(), "range", "sequence exhausted")
}

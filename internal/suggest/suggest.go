// Package suggest proposes replacement classification codes for items the
// authority rejected. Suggestions are best effort.
package suggest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/closestmatch"
	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/llm"
	"github.com/rezonia/nfe-engine/internal/model"
)

// DefaultLimit is the number of suggestions returned per item
const DefaultLimit = 5

// Suggestion sources
const (
	SourcePrefix = "prefix"
	SourceFuzzy  = "fuzzy"
	SourceLLM    = "llm"
)

// Suggestion is one candidate classification code
type Suggestion struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
}

// Request describes the rejected item
type Request struct {
	Item   model.Item
	Reason string
}

// Suggester proposes classification codes
type Suggester interface {
	Suggest(ctx context.Context, req Request) ([]Suggestion, error)
}

// Local matches against the catalog's classification codes, first by shared
// code prefix and then by fuzzy description match.
type Local struct {
	codes []*model.ClassificationCode
	byKey map[string]*model.ClassificationCode
	limit int

	mu      sync.Mutex
	matcher *closestmatch.ClosestMatch
}

// NewLocal indexes codes. An empty set yields no suggestions.
func NewLocal(codes []*model.ClassificationCode, limit int) *Local {
	if limit <= 0 {
		limit = DefaultLimit
	}
	sorted := append([]*model.ClassificationCode(nil), codes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	l := &Local{codes: sorted, byKey: make(map[string]*model.ClassificationCode), limit: limit}
	keys := make([]string, 0, len(sorted))
	for _, c := range sorted {
		key := normalize(c.Description)
		if key == "" {
			continue
		}
		if _, dup := l.byKey[key]; !dup {
			l.byKey[key] = c
			keys = append(keys, key)
		}
	}
	if len(keys) > 0 {
		l.matcher = closestmatch.New(keys, []int{3, 4})
	}
	return l
}

// Suggest implements Suggester
func (l *Local) Suggest(_ context.Context, req Request) ([]Suggestion, error) {
	rejected := req.Item.NCM
	out := make([]Suggestion, 0, l.limit)
	seen := map[string]bool{rejected: true}

	add := func(c *model.ClassificationCode, source string) bool {
		if seen[c.Code] {
			return len(out) < l.limit
		}
		seen[c.Code] = true
		out = append(out, Suggestion{Code: c.Code, Description: c.Description, Source: source})
		return len(out) < l.limit
	}

	for _, size := range []int{6, 4, 2} {
		if len(rejected) < size {
			continue
		}
		prefix := rejected[:size]
		for _, c := range l.codes {
			if strings.HasPrefix(c.Code, prefix) && !add(c, SourcePrefix) {
				return out, nil
			}
		}
	}

	desc := normalize(req.Item.Description)
	if l.matcher != nil && desc != "" {
		l.mu.Lock()
		matches := l.matcher.ClosestN(desc, l.limit)
		l.mu.Unlock()
		for _, key := range matches {
			c, ok := l.byKey[key]
			if ok && !add(c, SourceFuzzy) {
				break
			}
		}
	}
	return out, nil
}

// Advisor is the model-backed suggester
type Advisor struct {
	advisor *llm.NCMAdvisor
	local   *Local
	limit   int
}

// NewAdvisor wraps an NCM advisor. local, when set, feeds hints and
// restricts answers to known codes.
func NewAdvisor(advisor *llm.NCMAdvisor, local *Local, limit int) *Advisor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Advisor{advisor: advisor, local: local, limit: limit}
}

// Suggest implements Suggester
func (a *Advisor) Suggest(ctx context.Context, req Request) ([]Suggestion, error) {
	q := llm.NCMQuery{
		Description: req.Item.Description,
		RejectedNCM: req.Item.NCM,
		Reason:      req.Reason,
		Limit:       a.limit,
	}
	if a.local != nil {
		hints, _ := a.local.Suggest(ctx, req)
		for _, h := range hints {
			q.Known = append(q.Known, h.Code+" "+h.Description)
		}
	}

	candidates, err := a.advisor.Suggest(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Suggestion, 0, len(candidates))
	for _, c := range candidates {
		if a.local != nil && len(a.local.codes) > 0 && !a.local.known(c.Code) {
			continue
		}
		out = append(out, Suggestion{Code: c.Code, Description: c.Description, Source: SourceLLM})
	}
	return out, nil
}

func (l *Local) known(code string) bool {
	i := sort.Search(len(l.codes), func(i int) bool { return l.codes[i].Code >= code })
	return i < len(l.codes) && l.codes[i].Code == code
}

// Chain runs suggesters in order, merges their answers without duplicates
// and swallows failures.
type Chain struct {
	suggesters []Suggester
	limit      int
	logger     *zap.Logger
}

// NewChain creates a chain
func NewChain(logger *zap.Logger, limit int, suggesters ...Suggester) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Chain{suggesters: suggesters, limit: limit, logger: logger}
}

// Suggest implements Suggester. It never returns an error.
func (c *Chain) Suggest(ctx context.Context, req Request) ([]Suggestion, error) {
	var out []Suggestion
	seen := make(map[string]bool)
	for _, s := range c.suggesters {
		if s == nil {
			continue
		}
		got, err := s.Suggest(ctx, req)
		if err != nil {
			c.logger.Warn("classification suggestion failed",
				zap.String("ncm", req.Item.NCM),
				zap.Error(err))
			continue
		}
		for _, sg := range got {
			if seen[sg.Code] {
				continue
			}
			seen[sg.Code] = true
			out = append(out, sg)
			if len(out) == c.limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

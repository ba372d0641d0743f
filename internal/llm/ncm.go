package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Chatter sends a text-only chat. *Client satisfies it.
type Chatter interface {
	ChatText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// NCMCandidate is one classification code proposed by the model
type NCMCandidate struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// NCMQuery describes a rejected item
type NCMQuery struct {
	Description string
	RejectedNCM string
	Reason      string
	// Known are locally valid codes offered as hints
	Known []string
	Limit int
}

// NCMAdvisor asks the model for replacement classification codes
type NCMAdvisor struct {
	chat  Chatter
	model string
}

// AdvisorOption configures an NCMAdvisor
type AdvisorOption func(*NCMAdvisor)

// WithModel sets the model used by the advisor
func WithModel(model string) AdvisorOption {
	return func(a *NCMAdvisor) {
		a.model = model
	}
}

// NewNCMAdvisor creates an advisor
func NewNCMAdvisor(chat Chatter, opts ...AdvisorOption) *NCMAdvisor {
	a := &NCMAdvisor{chat: chat}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Suggest returns up to q.Limit 8-digit codes. Malformed entries and the
// rejected code itself are dropped.
func (a *NCMAdvisor) Suggest(ctx context.Context, q NCMQuery) ([]NCMCandidate, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	hint := ""
	if len(q.Known) > 0 {
		hint = fmt.Sprintf(UserPromptCandidateHint, strings.Join(q.Known, "\n"))
	}
	prompt := fmt.Sprintf(UserPromptNCMSuggestion, q.Description, q.RejectedNCM, q.Reason, hint, limit)

	raw, err := a.chat.ChatText(ctx, a.model, SystemPromptNCMAdvisor, prompt)
	if err != nil {
		return nil, fmt.Errorf("ncm suggestion failed: %w", err)
	}

	var candidates []NCMCandidate
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &candidates); err != nil {
		return nil, fmt.Errorf("failed to parse ncm suggestion: %w", err)
	}

	out := make([]NCMCandidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		c.Code = strings.ReplaceAll(strings.TrimSpace(c.Code), ".", "")
		if len(c.Code) != 8 || !isDigits(c.Code) || c.Code == q.RejectedNCM || seen[c.Code] {
			continue
		}
		seen[c.Code] = true
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

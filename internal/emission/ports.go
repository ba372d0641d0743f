package emission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/signature"
	"github.com/rezonia/nfe-engine/internal/suggest"
	"github.com/rezonia/nfe-engine/internal/transport"
)

// HistoryEntry records one lifecycle step of a document
type HistoryEntry struct {
	ID          string               `json:"id"`
	DocumentID  string               `json:"document_id"`
	AccessKey   string               `json:"access_key,omitempty"`
	Operation   string               `json:"operation"`
	From        model.Status         `json:"from"`
	To          model.Status         `json:"to"`
	StatusCode  int                  `json:"status_code,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Protocol    string               `json:"protocol,omitempty"`
	Suggestions []suggest.Suggestion `json:"suggestions,omitempty"`
	At          time.Time            `json:"at"`
}

// DocumentStore persists documents and their history. The engine hands it
// complete documents only.
type DocumentStore interface {
	Save(ctx context.Context, doc *model.FiscalDocument) error
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

// MemoryStore keeps documents in process
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]*model.FiscalDocument
	history map[string][]HistoryEntry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]*model.FiscalDocument),
		history: make(map[string][]HistoryEntry),
	}
}

// Save implements DocumentStore
func (s *MemoryStore) Save(_ context.Context, doc *model.FiscalDocument) error {
	if doc.ID == "" {
		return model.NewValidationError("id", nil, "required", "document needs an id to be stored")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc.Clone()
	return nil
}

// AppendHistory implements DocumentStore
func (s *MemoryStore) AppendHistory(_ context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[entry.DocumentID] = append(s.history[entry.DocumentID], entry)
	return nil
}

// Get returns a copy of a stored document
func (s *MemoryStore) Get(id string) (*model.FiscalDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// History returns the entries of a document in order
func (s *MemoryStore) History(id string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry(nil), s.history[id]...)
}

// Event types
const (
	EventStatusChanged = "document.status_changed"
	EventRejected      = "document.rejected"
)

// Event is published after each committed transition
type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	DocumentID string       `json:"document_id"`
	AccessKey  string       `json:"access_key,omitempty"`
	From       model.Status `json:"from"`
	To         model.Status `json:"to"`
	StatusCode int          `json:"status_code,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	At         time.Time    `json:"at"`
}

// EventPublisher announces transitions. Failures are logged, never escalated.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the logger
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements EventPublisher
func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("document event",
		zap.String("event_id", e.ID),
		zap.String("type", e.Type),
		zap.String("document_id", e.DocumentID),
		zap.String("access_key", e.AccessKey),
		zap.String("from", string(e.From)),
		zap.String("to", string(e.To)),
		zap.Int("status_code", e.StatusCode))
	return nil
}

// RedisPublisher publishes JSON events on a pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish implements EventPublisher
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", e.ID, err)
	}
	return nil
}

func newEvent(doc *model.FiscalDocument, from model.Status, code int, reason string, at time.Time) Event {
	typ := EventStatusChanged
	if doc.Status == model.StatusRejected {
		typ = EventRejected
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		DocumentID: doc.ID,
		AccessKey:  doc.AccessKey,
		From:       from,
		To:         doc.Status,
		StatusCode: code,
		Reason:     reason,
		At:         at,
	}
}

// CredentialSource loads the signing credentials. It is called once per
// operation so decrypted keys are not kept between requests.
type CredentialSource interface {
	Load(ctx context.Context) (*signature.Credentials, error)
}

// FileCredentials reads a PKCS#12 container from disk on every Load
type FileCredentials struct {
	Path     string
	Password string
	Now      func() time.Time
}

// Load implements CredentialSource
func (f FileCredentials) Load(_ context.Context) (*signature.Credentials, error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return signature.LoadCredentials(f.Path, f.Password, now())
}

// Transmitter posts requests to the authority. *transport.Client satisfies it.
type Transmitter interface {
	Send(ctx context.Context, req transport.Request) (*transport.Response, error)
	Environment() model.Environment
}

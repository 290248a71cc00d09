// Package ledger persists a session's extracted line items as encrypted hash
// fields and offers the single decrypting read path used by the pipeline.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/taxledger/internal/apperr"
	"github.com/dvloznov/taxledger/internal/crypto"
	"github.com/dvloznov/taxledger/internal/kv"
	"github.com/dvloznov/taxledger/internal/logger"
)

// SystemField holds the guest marker or an opaque auth token. It is stored in
// plaintext and never reaches the decrypting readers.
const SystemField = "USER_TOKEN"

const (
	DefaultTTL        = 24 * time.Hour
	DefaultGuestToken = "GUEST"
	keySeparator      = ":"
)

// Options configures a Store.
type Options struct {
	TTL        time.Duration
	GuestToken string
	// KeyPrefix namespaces session hashes in a shared key-value store.
	KeyPrefix string
}

// RawEntry is one hash field exactly as stored.
type RawEntry struct {
	Key   string
	Value string
}

// Item is a plaintext (field, amount) pair to be written under a document type.
type Item struct {
	Field  string
	Amount string
}

type Store struct {
	kv    kv.Store
	box   *crypto.Box
	opts  Options
	log   zerolog.Logger
	newID func() string
}

func NewStore(store kv.Store, box *crypto.Box, opts Options, log zerolog.Logger) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.GuestToken == "" {
		opts.GuestToken = DefaultGuestToken
	}
	return &Store{
		kv:    store,
		box:   box,
		opts:  opts,
		log:   log,
		newID: uuid.NewString,
	}
}

// TTL returns the session inactivity window.
func (s *Store) TTL() time.Duration { return s.opts.TTL }

func (s *Store) hashKey(session string) string {
	if s.opts.KeyPrefix == "" {
		return session
	}
	return s.opts.KeyPrefix + session
}

// EnsureSession returns a usable session id. When session is empty or does
// not name a live ledger hash (one carrying the system field) a fresh guest
// session is created; created reports that case.
func (s *Store) EnsureSession(ctx context.Context, session string) (id string, created bool, err error) {
	if session != "" {
		exists, err := s.kv.HExists(ctx, s.hashKey(session), SystemField)
		if err != nil {
			return "", false, fmt.Errorf("EnsureSession: hexists: %w", err)
		}
		if exists {
			s.refresh(ctx, session)
			return session, false, nil
		}
	}

	id = s.newID()
	if err := s.kv.HSet(ctx, s.hashKey(id), map[string]string{SystemField: s.opts.GuestToken}); err != nil {
		return "", false, fmt.Errorf("EnsureSession: create: %w", err)
	}
	s.refresh(ctx, id)
	log := logger.WithSession(s.log, id, "ledger")
	log.Info().Msg("Created guest session")
	return id, true, nil
}

// SetToken records an opaque auth token in the system field.
func (s *Store) SetToken(ctx context.Context, session, token string) error {
	if err := s.kv.HSet(ctx, s.hashKey(session), map[string]string{SystemField: token}); err != nil {
		return fmt.Errorf("SetToken: %w", err)
	}
	s.refresh(ctx, session)
	return nil
}

// Put writes one entry, overwriting an existing entry with the same plaintext key.
func (s *Store) Put(ctx context.Context, session, documentType, field, amount string) error {
	return s.PutAll(ctx, session, documentType, []Item{{Field: field, Amount: amount}})
}

// PutAll encrypts and writes items in a single hash write and refreshes the
// session TTL.
func (s *Store) PutAll(ctx context.Context, session, documentType string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	fields := make(map[string]string, len(items)+1)
	for _, it := range items {
		ck, err := s.box.Encrypt(documentType + keySeparator + it.Field)
		if err != nil {
			return fmt.Errorf("PutAll: encrypt key: %w", err)
		}
		cv, err := s.box.Encrypt(it.Amount)
		if err != nil {
			return fmt.Errorf("PutAll: encrypt value: %w", err)
		}
		fields[ck] = cv
	}

	key := s.hashKey(session)
	hasToken, err := s.kv.HExists(ctx, key, SystemField)
	if err != nil {
		return fmt.Errorf("PutAll: check system field: %w", err)
	}
	if !hasToken {
		fields[SystemField] = s.opts.GuestToken
	}

	if err := s.kv.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("PutAll: hset: %w", err)
	}
	s.refresh(ctx, session)

	log := logger.WithSession(s.log, session, "ledger")
	log.Debug().
		Str("document_type", documentType).
		Int("items", len(items)).
		Msg("Stored ledger entries")
	return nil
}

// GetAll returns every stored field, the system field included, ordered by
// cipher key.
func (s *Store) GetAll(ctx context.Context, session string) ([]RawEntry, error) {
	fields, err := s.kv.HGetAll(ctx, s.hashKey(session))
	if err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	entries := make([]RawEntry, 0, len(fields))
	for k, v := range fields {
		entries = append(entries, RawEntry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// DeleteAll removes the session hash.
func (s *Store) DeleteAll(ctx context.Context, session string) error {
	if _, err := s.kv.Del(ctx, s.hashKey(session)); err != nil {
		return fmt.Errorf("DeleteAll: %w", err)
	}
	log := logger.WithSession(s.log, session, "ledger")
	log.Info().Msg("Deleted session ledger")
	return nil
}

// Snapshot decrypts the session ledger. Entries that fail to decrypt are
// logged and skipped. A session with no decryptable entries yields
// apperr.ErrNoData.
func (s *Store) Snapshot(ctx context.Context, session string) (*Snapshot, error) {
	raw, err := s.GetAll(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("Snapshot: %w", err)
	}

	log := logger.WithSession(s.log, session, "ledger")
	snap := &Snapshot{Entries: make([]Entry, 0, len(raw))}
	for _, e := range raw {
		if e.Key == SystemField {
			continue
		}
		entry, err := s.decryptEntry(e)
		if err != nil {
			snap.Skipped++
			log.Warn().Err(err).Msg("Skipping undecryptable ledger entry")
			continue
		}
		snap.Entries = append(snap.Entries, entry)
	}

	if len(snap.Entries) == 0 {
		return nil, fmt.Errorf("Snapshot: %w", apperr.ErrNoData)
	}
	return snap, nil
}

func (s *Store) decryptEntry(e RawEntry) (Entry, error) {
	key, err := s.box.Decrypt(e.Key)
	if err != nil {
		return Entry{}, fmt.Errorf("key: %w", err)
	}
	value, err := s.box.Decrypt(e.Value)
	if err != nil {
		return Entry{}, fmt.Errorf("value: %w", err)
	}
	docType, field, ok := strings.Cut(key, keySeparator)
	if !ok {
		return Entry{}, fmt.Errorf("key without document type: %w", apperr.ErrDecryption)
	}
	return Entry{DocumentType: docType, Field: field, Amount: value}, nil
}

// DebugEntry describes one stored field for the diagnostic view.
type DebugEntry struct {
	CipherKey string `json:"key_encrypted"`
	Key       string `json:"key_decrypted,omitempty"`
	Value     string `json:"value_decrypted,omitempty"`
	Encrypted bool   `json:"encrypted"`
	Error     string `json:"error,omitempty"`
}

// Debug lists every stored field with the system field redacted and per-entry
// decryption errors surfaced instead of skipped.
func (s *Store) Debug(ctx context.Context, session string) ([]DebugEntry, error) {
	raw, err := s.GetAll(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("Debug: %w", err)
	}

	out := make([]DebugEntry, 0, len(raw))
	for _, e := range raw {
		if e.Key == SystemField {
			out = append(out, DebugEntry{CipherKey: SystemField, Value: "[REDACTED]"})
			continue
		}
		d := DebugEntry{CipherKey: truncate(e.Key, 50)}
		entry, err := s.decryptEntry(e)
		if err != nil {
			d.Error = err.Error()
		} else {
			d.Encrypted = true
			d.Key = entry.DocumentType + keySeparator + entry.Field
			d.Value = entry.Amount
		}
		out = append(out, d)
	}
	return out, nil
}

// refresh extends the session TTL. Failures are logged and swallowed.
func (s *Store) refresh(ctx context.Context, session string) {
	if err := s.kv.Expire(ctx, s.hashKey(session), s.opts.TTL); err != nil {
		log := logger.WithSession(s.log, session, "ledger")
		log.Warn().Err(err).Msg("Failed to refresh session TTL")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

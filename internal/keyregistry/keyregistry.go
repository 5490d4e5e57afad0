// Package keyregistry stores hashed client API-key records and validates
// raw keys presented by callers. Everything goes through a
// statestore.StateStore — there is no separate database for keys.
package keyregistry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/edge-proxy/internal/hashing"
	"github.com/yourusername/edge-proxy/internal/statestore"
)

// ErrNotFound is returned by mutating operations when keyId doesn't exist.
var ErrNotFound = errors.New("keyregistry: key not found")

// Record is the stored ApiKeyRecord entity. The raw key is never a
// field here — only its hash.
type Record struct {
	KeyID     string     `json:"keyId"`
	Hash      string     `json:"hash"`
	Owner     string     `json:"owner"`
	Label     string     `json:"label,omitempty"`
	Contact   string     `json:"contact,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	CreatedBy string     `json:"createdBy,omitempty"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Valid reports whether the record currently authenticates a caller: not
// revoked, and not past its expiry if one is set.
func (r *Record) Valid(now time.Time) bool {
	if r.Revoked {
		return false
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return false
	}
	return true
}

// Consumer is the derived, per-request identity.
type Consumer struct {
	KeyID string
	Owner string
}

// CreateParams are the inputs accepted when minting a new key.
type CreateParams struct {
	Owner     string
	Label     string
	Contact   string
	CreatedBy string
	ExpiresAt *time.Time
}

// Registry implements API-key issuance and lookup over a StateStore.
type Registry struct {
	store  statestore.StateStore
	prefix string
	logger *zap.Logger
}

func New(store statestore.StateStore, prefix string, logger *zap.Logger) *Registry {
	return &Registry{store: store, prefix: prefix, logger: logger}
}

func (r *Registry) hashKey(hash string) string  { return fmt.Sprintf("%s:hash:%s", r.prefix, hash) }
func (r *Registry) keyKey(keyID string) string  { return fmt.Sprintf("%s:key:%s", r.prefix, keyID) }
func (r *Registry) indexKey() string            { return fmt.Sprintf("%s:index", r.prefix) }

// Validate trims rawKey, hashes it, and resolves a valid record to a
// Consumer. Any missing step (no hash index entry, no record, record not
// valid) returns (nil, nil) — not an error.
func (r *Registry) Validate(ctx context.Context, rawKey string) (*Consumer, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, nil
	}

	hash := hashing.Hex(rawKey)
	keyID, err := r.store.Get(ctx, r.hashKey(hash))
	if err == statestore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	record, err := r.load(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !record.Valid(time.Now()) {
		return nil, nil
	}

	return &Consumer{KeyID: record.KeyID, Owner: record.Owner}, nil
}

func (r *Registry) load(ctx context.Context, keyID string) (*Record, error) {
	raw, err := r.store.Get(ctx, r.keyKey(keyID))
	if err == statestore.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("keyregistry: corrupt record %s: %w", keyID, err)
	}
	return &record, nil
}

func (r *Registry) save(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, r.keyKey(record.KeyID), string(data), 0)
}

// Create mints a new API key, persists its record, hash index, and index
// membership, and returns the raw key exactly once.
func (r *Registry) Create(ctx context.Context, params CreateParams) (rawKey string, record Record, err error) {
	if strings.TrimSpace(params.Owner) == "" {
		return "", Record{}, fmt.Errorf("keyregistry: owner is required")
	}

	rawKey, err = generateKey()
	if err != nil {
		return "", Record{}, fmt.Errorf("keyregistry: couldn't generate key: %w", err)
	}

	record = Record{
		KeyID:     uuid.NewString(),
		Hash:      hashing.Hex(rawKey),
		Owner:     params.Owner,
		Label:     params.Label,
		Contact:   params.Contact,
		CreatedAt: time.Now(),
		CreatedBy: params.CreatedBy,
		ExpiresAt: params.ExpiresAt,
	}

	if err := r.save(ctx, &record); err != nil {
		return "", Record{}, fmt.Errorf("keyregistry: couldn't persist record: %w", err)
	}
	if err := r.store.Set(ctx, r.hashKey(record.Hash), record.KeyID, 0); err != nil {
		return "", Record{}, fmt.Errorf("keyregistry: couldn't persist hash index: %w", err)
	}
	if err := r.store.SAdd(ctx, r.indexKey(), record.KeyID); err != nil {
		return "", Record{}, fmt.Errorf("keyregistry: couldn't persist index membership: %w", err)
	}

	return rawKey, record, nil
}

// List returns every record, self-healing stale index entries whose
// backing record is missing, ordered by createdAt descending.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	ids, err := r.store.SMembers(ctx, r.indexKey())
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := r.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.logger.Warn("keyregistry: self-healing stale index entry", zap.String("key_id", id))
			_ = r.store.SRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Revoke flips a record's revoked flag on.
func (r *Registry) Revoke(ctx context.Context, keyID string) error {
	return r.setRevoked(ctx, keyID, true)
}

// Activate flips a record's revoked flag off.
func (r *Registry) Activate(ctx context.Context, keyID string) error {
	return r.setRevoked(ctx, keyID, false)
}

func (r *Registry) setRevoked(ctx context.Context, keyID string, revoked bool) error {
	record, err := r.load(ctx, keyID)
	if err != nil {
		return err
	}
	record.Revoked = revoked
	if revoked {
		now := time.Now()
		record.RevokedAt = &now
	} else {
		record.RevokedAt = nil
	}
	return r.save(ctx, record)
}

// Delete removes the record, its hash index entry, and its index
// membership. Missing record is a not-found error.
func (r *Registry) Delete(ctx context.Context, keyID string) error {
	record, err := r.load(ctx, keyID)
	if err != nil {
		return err
	}
	if err := r.store.Del(ctx, r.keyKey(keyID), r.hashKey(record.Hash)); err != nil {
		return err
	}
	return r.store.SRem(ctx, r.indexKey(), keyID)
}

// generateKey produces a random key with a recognizable prefix.
func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

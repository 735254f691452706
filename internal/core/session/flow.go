package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/infra/clock"
	"github.com/yndnr/tabsession-go/internal/storage"
)

// flowRecord is the stored half of a login attempt.
type flowRecord struct {
	Verifier  string `json:"verifier"`
	CreatedAt int64  `json:"created_at"`
}

// FlowStore keeps PKCE verifiers keyed by the login's state token.
//
// TODO: purge abandoned entries once storage.Store can enumerate keys.
type FlowStore struct {
	store  storage.Store
	prefix string
	ttl    time.Duration
	clock  clock.Clock
}

// NewFlowStore creates a FlowStore. A non-positive ttl disables expiry.
func NewFlowStore(store storage.Store, prefix string, ttl time.Duration, c clock.Clock) *FlowStore {
	if c == nil {
		c = clock.Real()
	}
	return &FlowStore{store: store, prefix: prefix, ttl: ttl, clock: c}
}

// Save stores verifier for stateToken.
func (f *FlowStore) Save(stateToken, verifier string) error {
	data, err := json.Marshal(flowRecord{
		Verifier:  verifier,
		CreatedAt: f.clock.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := f.store.Set(f.prefix+stateToken, data); err != nil {
		return domain.ErrStorageError.WithDetails("save login attempt").WithCause(err)
	}
	return nil
}

// Consume returns and removes the verifier for stateToken. A missing,
// malformed or expired entry is ErrInvalidState.
func (f *FlowStore) Consume(stateToken string) (string, error) {
	key := f.prefix + stateToken
	data, err := f.store.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return "", domain.ErrInvalidState.WithDetails("no login attempt for state")
		}
		return "", domain.ErrStorageError.WithDetails("read login attempt").WithCause(err)
	}
	if err := f.store.Delete(key); err != nil {
		return "", domain.ErrStorageError.WithDetails("remove login attempt").WithCause(err)
	}

	var rec flowRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Verifier == "" {
		return "", domain.ErrInvalidState.WithDetails("malformed login attempt")
	}
	if f.ttl > 0 && f.clock.Now().Sub(time.UnixMilli(rec.CreatedAt)) > f.ttl {
		return "", domain.ErrInvalidState.WithDetails("login attempt expired").WithCause(domain.ErrFlowExpired)
	}
	return rec.Verifier, nil
}

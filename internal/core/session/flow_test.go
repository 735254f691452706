package session

import (
	"errors"
	"testing"
	"time"

	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/infra/clock"
	"github.com/yndnr/tabsession-go/internal/storage/memory"
)

func TestFlowStore_SaveConsume(t *testing.T) {
	fs := NewFlowStore(memory.NewBackend().Open("tab"), "oidc:", time.Minute, clock.NewFake(t0))

	if err := fs.Save("state-1", "verifier-1"); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Consume("state-1")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got != "verifier-1" {
		t.Errorf("Consume() = %q, want verifier-1", got)
	}

	if _, err := fs.Consume("state-1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second Consume() error = %v, want ErrInvalidState", err)
	}
}

func TestFlowStore_Unknown(t *testing.T) {
	fs := NewFlowStore(memory.NewBackend().Open("tab"), "oidc:", time.Minute, nil)
	if _, err := fs.Consume("missing"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Consume() error = %v, want ErrInvalidState", err)
	}
}

func TestFlowStore_Malformed(t *testing.T) {
	store := memory.NewBackend().Open("tab")
	if err := store.Set("oidc:s", []byte("not json")); err != nil {
		t.Fatal(err)
	}
	fs := NewFlowStore(store, "oidc:", time.Minute, nil)

	if _, err := fs.Consume("s"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Consume() error = %v, want ErrInvalidState", err)
	}
	if _, err := store.Get("oidc:s"); err == nil {
		t.Error("malformed entry was not removed")
	}
}

func TestFlowStore_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		elapsed time.Duration
		expired bool
	}{
		{"within ttl", time.Minute, 30 * time.Second, false},
		{"at ttl", time.Minute, time.Minute, false},
		{"past ttl", time.Minute, time.Minute + time.Millisecond, true},
		{"no ttl", 0, 24 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := clock.NewFake(t0)
			fs := NewFlowStore(memory.NewBackend().Open("tab"), "oidc:", tt.ttl, c)
			if err := fs.Save("s", "v"); err != nil {
				t.Fatal(err)
			}
			c.Advance(tt.elapsed)

			_, err := fs.Consume("s")
			if tt.expired {
				if !errors.Is(err, domain.ErrInvalidState) || !errors.Is(err, domain.ErrFlowExpired) {
					t.Errorf("Consume() error = %v, want ErrInvalidState caused by ErrFlowExpired", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Consume() error = %v", err)
			}
		})
	}
}

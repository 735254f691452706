package lock

import (
	"strings"
	"testing"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"", ScopeFixed, false},
		{"fixed", ScopeFixed, false},
		{"token", ScopeToken, false},
		{"tab", "", true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseScope(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestScope_Key(t *testing.T) {
	if got := ScopeFixed.Key("rt-abc"); got != RefreshKey {
		t.Errorf("fixed Key() = %q, want %q", got, RefreshKey)
	}

	k1 := ScopeToken.Key("refresh-token-1")
	k2 := ScopeToken.Key("refresh-token-2")
	if k1 == k2 {
		t.Error("different tokens should map to different keys")
	}
	if k1 != ScopeToken.Key("refresh-token-1") {
		t.Error("key derivation should be stable")
	}
	if !strings.HasPrefix(k1, "rt-") || len(k1) != 3+16 {
		t.Errorf("Key() = %q, want rt- plus 16 hex digits", k1)
	}
	if strings.Contains(k1, "refresh-token") {
		t.Error("key must not contain the raw token")
	}
}

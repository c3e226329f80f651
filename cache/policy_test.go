package cache

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.TTL != 15*time.Minute {
		t.Errorf("TTL = %v, want 15m", p.TTL)
	}
	if p.DisableRevalidate {
		t.Error("background revalidation should be on by default")
	}
	if (Policy{TTL: time.Minute}).DisableRevalidate {
		t.Error("zero value Policy must revalidate")
	}
}

func TestIsStale(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(age time.Duration) *Entry {
		return &Entry{Timestamp: now.Add(-age)}
	}

	tests := []struct {
		name  string
		entry *Entry
		ttl   time.Duration
		want  bool
	}{
		{"nil entry", nil, DefaultTTL, true},
		{"just written", at(0), DefaultTTL, false},
		{"exactly ttl", at(DefaultTTL), DefaultTTL, false},
		{"one ms past ttl", at(DefaultTTL + time.Millisecond), DefaultTTL, true},
		{"epoch timestamp", &Entry{Timestamp: time.UnixMilli(0)}, DefaultTTL, true},
		{"zero ttl same instant", at(0), 0, false},
		{"zero ttl later", at(time.Millisecond), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(tt.entry, now, tt.ttl); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_IsStale(t *testing.T) {
	now := time.Now()
	p := Policy{TTL: time.Minute}
	if p.IsStale(&Entry{Timestamp: now.Add(-30 * time.Second)}, now) {
		t.Error("30s old entry should be fresh with 1m TTL")
	}
	if !p.IsStale(&Entry{Timestamp: now.Add(-2 * time.Minute)}, now) {
		t.Error("2m old entry should be stale with 1m TTL")
	}
}

func TestAge(t *testing.T) {
	now := time.Now()
	if got := Age(Entry{Timestamp: now.Add(-time.Hour)}, now); got != time.Hour {
		t.Errorf("Age() = %v, want 1h", got)
	}
}

package mqttconn

import (
	"context"
	"testing"
	"time"
)

func TestValidateConfig_RequiresValidBrokerURL(t *testing.T) {
	d := &Driver{}
	if err := d.ValidateConfig(map[string]any{}); err == nil {
		t.Fatal("expected error for missing broker")
	}
	if err := d.ValidateConfig(map[string]any{"broker": "tcp://localhost:1883"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDailyQuota_EnforcesLimitAndResets(t *testing.T) {
	q := NewDailyQuota(nil)
	q.limit = 2
	if !q.Allow() || !q.Allow() {
		t.Fatal("expected first two calls to be allowed")
	}
	if q.Allow() {
		t.Fatal("expected third call to be rejected")
	}

	q.resetDay = q.resetDay - 1 // force a midnight rollover on next check
	if !q.Allow() {
		t.Fatal("expected quota to reset after a day boundary")
	}
}

func TestRateLimiter_DropsOverLimit(t *testing.T) {
	r := newRateLimiter(2, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.start(ctx)

	if !r.allow() || !r.allow() {
		t.Fatal("expected first two messages to be allowed")
	}
	if r.allow() {
		t.Fatal("expected third message to be dropped")
	}
}

package firestore

import (
	"context"
	"testing"
	"time"
)

func TestNewTxConfigAppliesOptions(t *testing.T) {
	cfg := newTxConfig(nil)
	if cfg.attempts != defaultTxAttempts || cfg.timeout != defaultTxTimeout {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	cfg = newTxConfig([]TxOption{WithTxAttempts(3), WithTxTimeout(2 * time.Second), nil})
	if cfg.attempts != 3 || cfg.timeout != 2*time.Second {
		t.Fatalf("options not applied: %+v", cfg)
	}

	cfg = newTxConfig([]TxOption{WithTxAttempts(0), WithTxTimeout(-time.Second)})
	if cfg.attempts != defaultTxAttempts || cfg.timeout != defaultTxTimeout {
		t.Fatalf("non-positive options should keep defaults: %+v", cfg)
	}
}

func TestTxConfigContextKeepsSoonerDeadline(t *testing.T) {
	cfg := newTxConfig([]TxOption{WithTxTimeout(time.Minute)})

	parent, cancelParent := context.WithTimeout(context.Background(), time.Second)
	defer cancelParent()
	ctx, cancel := cfg.context(parent)
	defer cancel()
	if ctx != parent {
		t.Fatalf("expected caller context with a sooner deadline to be used as is")
	}

	ctx, cancel = cfg.context(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatalf("expected transaction deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > time.Minute {
		t.Fatalf("unexpected deadline in %v", remaining)
	}
}

func TestRunTransactionRejectsNilFunc(t *testing.T) {
	var p Provider
	if err := p.RunTransaction(context.Background(), "orders.save", nil); err == nil {
		t.Fatalf("expected error for nil transaction function")
	}
}

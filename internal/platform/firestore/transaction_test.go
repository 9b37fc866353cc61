package firestore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
)

func TestResolveTxPolicy(t *testing.T) {
	policy := resolveTxPolicy(nil)
	if policy.op != defaultTxOp || policy.maxAttempts != defaultTxAttempts || policy.timeout != defaultTxTimeout {
		t.Fatalf("unexpected defaults %+v", policy)
	}

	policy = resolveTxPolicy([]TxOption{
		WithTxOp("inventory.reserve"),
		WithTxAttempts(9),
		WithTxTimeout(2 * time.Second),
		nil,
	})
	if policy.op != "inventory.reserve" || policy.maxAttempts != 9 || policy.timeout != 2*time.Second {
		t.Fatalf("unexpected policy %+v", policy)
	}

	policy = resolveTxPolicy([]TxOption{WithTxOp(""), WithTxAttempts(0), WithTxTimeout(-time.Second)})
	if policy.op != defaultTxOp || policy.maxAttempts != defaultTxAttempts || policy.timeout != defaultTxTimeout {
		t.Fatalf("non-positive overrides should be ignored, got %+v", policy)
	}
}

func TestTxPolicyBoundOnlyShortensDeadline(t *testing.T) {
	policy := txPolicy{timeout: time.Second}

	ctx, cancel := policy.bound(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > time.Second {
		t.Fatalf("expected deadline within 1s, got %v (set=%v)", deadline, ok)
	}

	parent, parentCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer parentCancel()
	bounded, cancel := policy.bound(parent)
	defer cancel()
	if bounded != parent {
		t.Fatal("expected a tighter caller deadline to be kept")
	}

	unbounded, cancel := txPolicy{}.bound(context.Background())
	defer cancel()
	if _, ok := unbounded.Deadline(); ok {
		t.Fatal("expected no deadline without a timeout")
	}
}

func TestRunTransactionRejectsMissingInputs(t *testing.T) {
	err := RunTransaction(context.Background(), nil, func(context.Context, *firestore.Transaction) error { return nil }, WithTxOp("orders.update"))
	var repoErr *Error
	if !errors.As(err, &repoErr) || !strings.HasPrefix(err.Error(), "orders.update:") {
		t.Fatalf("expected wrapped error naming the op, got %v", err)
	}

	client := &firestore.Client{}
	if err := RunTransaction(context.Background(), client, nil); err == nil || !strings.Contains(err.Error(), "transaction function is nil") {
		t.Fatalf("expected nil function error, got %v", err)
	}
}

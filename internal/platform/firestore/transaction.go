package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	defaultTxOp       = "transaction"
)

// TxFunc is the body of a transaction. Firestore reruns it when the transaction aborts on
// contention, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption tunes one RunTransaction call.
type TxOption func(*txPolicy)

type txPolicy struct {
	op          string
	maxAttempts int
	timeout     time.Duration
}

// WithTxOp names the transaction in wrapped errors, e.g. "inventory.reserve".
func WithTxOp(op string) TxOption {
	return func(p *txPolicy) {
		if op != "" {
			p.op = op
		}
	}
}

// WithTxAttempts sets how many times a contended transaction is tried before giving up.
func WithTxAttempts(attempts int) TxOption {
	return func(p *txPolicy) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included. It only ever shortens the
// caller's deadline.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(p *txPolicy) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func resolveTxPolicy(opts []TxOption) txPolicy {
	policy := txPolicy{op: defaultTxOp, maxAttempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&policy)
		}
	}
	return policy
}

func (p txPolicy) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= p.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// RunTransaction runs fn in a Firestore transaction on client. Errors come back wrapped as
// *Error under the policy's op; exhausting the retry budget on contention is reported as a
// conflict that names the number of attempts.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	policy := resolveTxPolicy(opts)
	if client == nil {
		return WrapError(policy.op, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(policy.op, errors.New("firestore: transaction function is nil"))
	}

	txCtx, cancel := policy.bound(ctx)
	defer cancel()

	attempts := 0
	err := client.RunTransaction(txCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		return fn(ctx, tx)
	}, firestore.MaxAttempts(policy.maxAttempts))
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.Aborted {
		err = fmt.Errorf("gave up after %d attempts: %w", attempts, err)
	}
	return WrapError(policy.op, err)
}

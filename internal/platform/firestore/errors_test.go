package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanko-field/orderdesk/internal/platform/config"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}

	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("orders.get", status.Error(tc.code, "boom"))
			var repoErr *Error
			if !errors.As(err, &repoErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, repoErr)
			}
		})
	}
}

func TestWrapErrorPassesContextErrorsThrough(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "canceled")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapErrorKeepsExistingOp(t *testing.T) {
	inner := WrapError("stocks.get", status.Error(codes.NotFound, "missing"))
	outer := WrapError("transaction", inner)
	if outer.Error() != inner.Error() {
		t.Fatalf("expected original op to be kept, got %q", outer.Error())
	}
}

func TestProviderRequiresProjectID(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	t.Setenv(envEmulatorHost, "")
	provider := NewProvider(providerConfigForTest(""))
	if _, err := provider.Client(context.Background()); err == nil {
		t.Fatal("expected error without project id")
	}
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestProviderDialTimeoutOption(t *testing.T) {
	provider := NewProvider(providerConfigForTest("od-test"))
	if provider.dialTimeout != defaultDialTimeout {
		t.Fatalf("expected default dial timeout, got %s", provider.dialTimeout)
	}
	provider = NewProvider(providerConfigForTest("od-test"), WithDialTimeout(3*time.Second))
	if provider.dialTimeout != 3*time.Second {
		t.Fatalf("expected 3s dial timeout, got %s", provider.dialTimeout)
	}
	provider = NewProvider(providerConfigForTest("od-test"), WithDialTimeout(0))
	if provider.dialTimeout != defaultDialTimeout {
		t.Fatalf("expected non-positive timeout to be ignored, got %s", provider.dialTimeout)
	}
}

func providerConfigForTest(projectID string) config.FirestoreConfig {
	return config.FirestoreConfig{ProjectID: projectID}
}

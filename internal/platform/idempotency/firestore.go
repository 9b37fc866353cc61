package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
)

const (
	defaultCollection = "idempotencyKeys"

	// A key document only sees concurrent writes from retried requests.
	idempotencyTxAttempts = 3
)

// FirestoreStore implements Store on a Firestore collection so replays survive restarts
// and are shared by every API instance.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a Firestore-backed idempotency store. An empty collection
// selects the default.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}, nil
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

// Reserve claims key for fingerprint. An expired record is replaced as if it never existed.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ref, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readRecord(tx, ref)
		if err != nil {
			return err
		}
		reservation, fresh, err := claim(existing, key, fingerprint, now, ttl)
		if err != nil {
			return err
		}
		result = reservation
		if !fresh {
			return nil
		}
		return tx.Set(ref, toFirestoreRecord(reservation.Record))
	}, pfirestore.WithTxOp("idempotency.reserve"), pfirestore.WithTxAttempts(idempotencyTxAttempts))
	return result, err
}

// SaveResponse marks the reservation completed with the handler's response.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}

	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readRecord(tx, ref)
		if err != nil {
			return err
		}
		record, err := complete(existing, key, fingerprint, resp, now, ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, toFirestoreRecord(record))
	}, pfirestore.WithTxOp("idempotency.save"), pfirestore.WithTxAttempts(idempotencyTxAttempts))
}

// readRecord returns nil when the key has no document.
func readRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Record, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored firestoreRecord
	if err := snap.DataTo(&stored); err != nil {
		return nil, err
	}
	record := stored.toRecord()
	return &record, nil
}

// CleanupExpired removes up to limit expired records in one batch.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	docs, err := client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Delete(doc.Ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Release removes the reservation held for fingerprint so the caller may retry.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readRecord(tx, ref)
		if err != nil || existing == nil || existing.Fingerprint != fingerprint {
			return err
		}
		return tx.Delete(ref)
	}, pfirestore.WithTxOp("idempotency.release"), pfirestore.WithTxAttempts(idempotencyTxAttempts))
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func toFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

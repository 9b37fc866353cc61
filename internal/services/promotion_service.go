package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/orderdesk/internal/repositories"
)

// PromotionStatus distinguishes "no code supplied" from "code supplied but unusable".
type PromotionStatus string

const (
	PromotionStatusNone     PromotionStatus = "none"
	PromotionStatusApplied  PromotionStatus = "applied"
	PromotionStatusRejected PromotionStatus = "rejected"
)

// PromotionValidation is the outcome of checking a candidate code. Err is set only for
// rejected codes and always wraps ErrPromotionInvalidOrExpired.
type PromotionValidation struct {
	Status    PromotionStatus
	Code      string
	Promotion *Promotion
	Reason    string
	Err       error
}

// Applied reports whether a promotion should be priced in.
func (v PromotionValidation) Applied() bool {
	return v.Status == PromotionStatusApplied && v.Promotion != nil
}

// ValidatePromotionCode matches code exactly (case-sensitive, surrounding whitespace ignored)
// against promotions and accepts it only when now is strictly before its expiry. It never
// returns an error; rejections are carried in the result.
func ValidatePromotionCode(code string, promotions []Promotion, now time.Time) PromotionValidation {
	candidate := strings.TrimSpace(code)
	if candidate == "" {
		return PromotionValidation{Status: PromotionStatusNone}
	}

	matched := false
	for i := range promotions {
		if promotions[i].Code != candidate {
			continue
		}
		matched = true
		if promotions[i].ActiveAt(now) {
			promo := promotions[i]
			return PromotionValidation{Status: PromotionStatusApplied, Code: candidate, Promotion: &promo}
		}
	}

	reason := PromotionReasonUnknownCode
	if matched {
		reason = PromotionReasonExpired
	}
	return PromotionValidation{
		Status: PromotionStatusRejected,
		Code:   candidate,
		Reason: reason,
		Err:    fmt.Errorf("%w: %s (%s)", ErrPromotionInvalidOrExpired, candidate, reason),
	}
}

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	Promotions repositories.PromotionRepository
	Clock      func() time.Time
}

type promotionService struct {
	repo  repositories.PromotionRepository
	clock func() time.Time
}

// NewPromotionService wires a PromotionService backed by the provided repository.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &promotionService{
		repo:  deps.Promotions,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

func (s *promotionService) ValidateCode(ctx context.Context, code string) (PromotionValidation, error) {
	candidate := strings.TrimSpace(code)
	if candidate == "" {
		return PromotionValidation{Status: PromotionStatusNone}, nil
	}

	var candidates []Promotion
	promotion, err := s.repo.FindByCode(ctx, candidate)
	switch {
	case err == nil:
		candidates = []Promotion{promotion}
	case isRepoNotFound(err):
	default:
		return PromotionValidation{}, s.mapRepositoryError(err)
	}
	return ValidatePromotionCode(candidate, candidates, s.clock()), nil
}

func (s *promotionService) ResolveByID(ctx context.Context, promotionID string) (Promotion, error) {
	promotionID = strings.TrimSpace(promotionID)
	if promotionID == "" {
		return Promotion{}, fmt.Errorf("%w: promotion id is required", ErrValidation)
	}

	promotion, err := s.repo.FindByID(ctx, promotionID)
	if err != nil {
		if isRepoNotFound(err) {
			return Promotion{}, fmt.Errorf("%w: %s", ErrPromotionNotFound, promotionID)
		}
		return Promotion{}, s.mapRepositoryError(err)
	}

	result := ValidatePromotionCode(promotion.Code, []Promotion{promotion}, s.clock())
	if !result.Applied() {
		return Promotion{}, result.Err
	}
	return *result.Promotion, nil
}

func (s *promotionService) ListActive(ctx context.Context) ([]Promotion, error) {
	now := s.clock()
	promotions, err := s.repo.ListActive(ctx, now)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	active := make([]Promotion, 0, len(promotions))
	for _, promo := range promotions {
		if promo.ActiveAt(now) {
			active = append(active, promo)
		}
	}
	return active, nil
}

func (s *promotionService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: promotions: %v", ErrUnavailable, err)
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

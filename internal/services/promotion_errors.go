package services

import "errors"

var (
	// ErrPromotionRepositoryMissing indicates the promotion repository dependency is absent.
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
)

// Rejection reasons reported alongside ErrPromotionInvalidOrExpired.
const (
	PromotionReasonUnknownCode = "unknown_code"
	PromotionReasonExpired     = "expired"
)

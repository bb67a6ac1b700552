// internal/service/offer/domain/errors.go
package domain

import "errors"

var (
	ErrOfferNotFound    = errors.New("offer not found")
	ErrStatusNotAllowed = errors.New("operation not allowed in current status")
	ErrPolicyViolation  = errors.New("policy violation")
	ErrInvalidOffer     = errors.New("invalid offer")
)

package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrDispatchFailed      = errors.New("dispatch failed")
	ErrCallbackAmbiguous   = errors.New("callback payload did not resolve the unit")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")

	ErrPromoInvalid         = errors.New("promo code invalid")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
	ErrPromoExhausted       = errors.New("promo code exhausted")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

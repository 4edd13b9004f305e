package payment

import (
	"errors"
	"fmt"
)

// ErrConcurrentPayment is returned when a confirmation for the same order is
// already in flight. Not retryable; the user should be told a payment is
// already running.
var ErrConcurrentPayment = errors.New("a payment for this order is already in progress")

// Category is the fixed set of user-facing payment failure categories.
type Category string

const (
	CategoryInsufficientBalance Category = "INSUFFICIENT_BALANCE"
	CategoryExpiredCard         Category = "EXPIRED_CARD"
	CategoryInvalidCard         Category = "INVALID_CARD"
	CategoryDuplicateOrderID    Category = "DUPLICATE_ORDER_ID"
	CategoryAmountMismatch      Category = "AMOUNT_MISMATCH"
	CategoryUnknown             Category = "UNKNOWN"
)

// providerCodeCategories maps the payment provider's machine codes to
// user-facing categories. Codes not listed fall back to CategoryUnknown.
var providerCodeCategories = map[string]Category{
	"NOT_ENOUGH_BALANCE":      CategoryInsufficientBalance,
	"EXCEED_MAX_AMOUNT":       CategoryInsufficientBalance,
	"INVALID_CARD_EXPIRATION": CategoryExpiredCard,
	"EXPIRED_CARD":            CategoryExpiredCard,
	"INVALID_CARD_NUMBER":     CategoryInvalidCard,
	"INVALID_STOPPED_CARD":    CategoryInvalidCard,
	"ALREADY_PROCESSED_PAYMENT": CategoryDuplicateOrderID,
	"DUPLICATE_ORDER_ID":        CategoryDuplicateOrderID,
	"AMOUNT_MISMATCH":           CategoryAmountMismatch,
	"INVALID_AMOUNT":            CategoryAmountMismatch,
}

// ProviderError is a payment-provider rejection, normalized to a category the
// UI can message on.
type ProviderError struct {
	Code     string
	Category Category
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment rejected (%s/%s): %s", e.Code, e.Category, e.Message)
}

// Categorize maps a provider error code to its user-facing category.
func Categorize(code string) Category {
	if c, ok := providerCodeCategories[code]; ok {
		return c
	}
	return CategoryUnknown
}

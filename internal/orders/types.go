// Package orders holds the canonical in-memory order records and the state
// store that owns them.
package orders

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savora/go-order-lifecycle/internal/storage"
)

// Status is the closed order-progression enum. Unknown strings must be
// rejected by ParseStatus, never coerced.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusCooking    Status = "COOKING"
	StatusCooked     Status = "COOKED"
	StatusRiderReady Status = "RIDER_READY"
	StatusDelivering Status = "DELIVERING"
	StatusDelivered  Status = "DELIVERED"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

var allStatuses = map[Status]bool{
	StatusWaiting:    true,
	StatusCooking:    true,
	StatusCooked:     true,
	StatusRiderReady: true,
	StatusDelivering: true,
	StatusDelivered:  true,
	StatusCompleted:  true,
	StatusCanceled:   true,
}

// ErrInvalidStatus is returned when a status string is not in the enum.
var ErrInvalidStatus = errors.New("invalid order status")

// ErrNotFound is returned when no order with the given id is in memory.
var ErrNotFound = errors.New("order not found")

// ParseStatus validates s against the enum.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !allStatuses[st] {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCompleted || s == StatusCanceled
}

// OptionGroup is a selected option group on a line item.
type OptionGroup struct {
	Name    string   `json:"name"`
	Choices []string `json:"choices"`
}

// LineItem is one ordered menu entry.
type LineItem struct {
	MenuID    string          `json:"menu_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Options   []OptionGroup   `json:"options,omitempty"`
}

// Address is the delivery address snapshot taken at checkout.
type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Contact string `json:"contact,omitempty"`
}

// StatusChange is one append-only history entry.
type StatusChange struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Order is the canonical in-memory record. Status always equals the status of
// the last History entry; History is never reordered or truncated while the
// order is in memory. Provisional marks locally-created records that no
// authoritative backend snapshot has replaced yet.
type Order struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	StoreName   string          `json:"store_name"`
	Items       []LineItem      `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Total       decimal.Decimal `json:"total"`
	Address     Address         `json:"address"`
	Status      Status          `json:"status"`
	History     []StatusChange  `json:"history"`
	HasReview   bool            `json:"has_review"`
	Provisional bool            `json:"provisional"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewLocalID generates a client-side order id for records the server has not
// yet assigned one.
func NewLocalID(now time.Time) string {
	return fmt.Sprintf("order_%d_%06d", now.UnixMilli(), rand.Intn(1_000_000))
}

// Compressed projects o into its persisted form.
func (o Order) Compressed() storage.PersistedOrder {
	return storage.PersistedOrder{
		ID:          o.ID,
		StoreID:     o.StoreID,
		StoreName:   o.StoreName,
		Status:      string(o.Status),
		Total:       o.Total,
		CreatedAt:   o.CreatedAt,
		MenuSummary: o.menuSummary(),
	}
}

// menuSummary renders "first item name" or "first item name and N more".
func (o Order) menuSummary() string {
	if len(o.Items) == 0 {
		return ""
	}
	if len(o.Items) == 1 {
		return o.Items[0].Name
	}
	return fmt.Sprintf("%s and %d more", o.Items[0].Name, len(o.Items)-1)
}

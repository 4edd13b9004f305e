// Package backend wraps the remote order service endpoints the engine
// consumes.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savora/go-order-lifecycle/internal/orders"
	"github.com/savora/go-order-lifecycle/internal/transport"
)

type itemPayload struct {
	MenuID    string          `json:"menu_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type addressPayload struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Contact string `json:"contact,omitempty"`
}

// orderPayload is the wire shape of the order endpoints. It carries every
// Order field the local record owns, so replacing a provisional record with a
// fetched one loses nothing.
type orderPayload struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	StoreName   string          `json:"store_name"`
	Status      string          `json:"status"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Total       decimal.Decimal `json:"total"`
	Address     addressPayload  `json:"address"`
	HasReview   bool            `json:"has_review"`
	CreatedAt   time.Time       `json:"created_at"`
	Items       []itemPayload   `json:"items"`
}

func toPayload(o orders.Order) orderPayload {
	p := orderPayload{
		ID:          o.ID,
		StoreID:     o.StoreID,
		StoreName:   o.StoreName,
		Status:      string(o.Status),
		Subtotal:    o.Subtotal,
		DeliveryFee: o.DeliveryFee,
		Total:       o.Total,
		Address: addressPayload{
			Line1:   o.Address.Line1,
			Line2:   o.Address.Line2,
			City:    o.Address.City,
			Zip:     o.Address.Zip,
			Contact: o.Address.Contact,
		},
		HasReview: o.HasReview,
		CreatedAt: o.CreatedAt,
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, itemPayload{
			MenuID:    it.MenuID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return p
}

func fromPayload(p orderPayload) (orders.Order, error) {
	status, err := orders.ParseStatus(p.Status)
	if err != nil {
		return orders.Order{}, err
	}
	o := orders.Order{
		ID:          p.ID,
		StoreID:     p.StoreID,
		StoreName:   p.StoreName,
		Status:      status,
		Subtotal:    p.Subtotal,
		DeliveryFee: p.DeliveryFee,
		Total:       p.Total,
		Address: orders.Address{
			Line1:   p.Address.Line1,
			Line2:   p.Address.Line2,
			City:    p.Address.City,
			Zip:     p.Address.Zip,
			Contact: p.Address.Contact,
		},
		HasReview: p.HasReview,
		CreatedAt: p.CreatedAt,
	}
	for _, it := range p.Items {
		o.Items = append(o.Items, orders.LineItem{
			MenuID:    it.MenuID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return o, nil
}

// Client talks to the order backend.
type Client struct {
	t transport.Doer
}

func NewClient(t transport.Doer) *Client {
	return &Client{t: t}
}

// CreateOrder submits a locally-built order and returns the backend's
// authoritative record for it. Callers replace their provisional record with
// the result.
func (c *Client) CreateOrder(ctx context.Context, order orders.Order) (orders.Order, error) {
	var out orderPayload
	if err := c.t.Post(ctx, "/orders", toPayload(order), &out); err != nil {
		return orders.Order{}, fmt.Errorf("create order: %w", err)
	}
	result, err := fromPayload(out)
	if err != nil {
		return orders.Order{}, fmt.Errorf("create order: %w", err)
	}
	return result, nil
}

// FetchOrder returns the backend's current view of the order. The returned
// record is authoritative: its status has passed enum validation and
// Provisional is false.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (orders.Order, error) {
	var out orderPayload
	if err := c.t.Get(ctx, "/orders/"+orderID, &out); err != nil {
		return orders.Order{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	result, err := fromPayload(out)
	if err != nil {
		return orders.Order{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	return result, nil
}

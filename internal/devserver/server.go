// Package devserver is a local stand-in for the order backend and the payment
// provider, so the engine can run end-to-end without real services.
package devserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/savora/go-order-lifecycle/internal/orders"
)

// Config groups the simulation knobs.
type Config struct {
	// StatusStep is how long an order stays in each status before the
	// simulated kitchen advances it.
	StatusStep time.Duration
}

// Server holds the simulated remote state.
type Server struct {
	cfg      Config
	validate *validatorv10.Validate

	mu            sync.Mutex
	orders        map[string]*simOrder
	payments      map[string]*simPayment
	confirmations map[string]confirmReplay // by idempotency key
}

type simOrder struct {
	payload   orderPayload
	createdAt time.Time
}

type simPayment struct {
	paymentKey string
	status     string
	approvedAt time.Time
}

// confirmReplay is the stored response for a seen idempotency key, so
// retried confirms return the original outcome instead of double-charging.
type confirmReplay struct {
	status int
	body   gin.H
}

// New returns a simulation server. A zero StatusStep defaults to 10s.
func New(cfg Config) *Server {
	if cfg.StatusStep <= 0 {
		cfg.StatusStep = 10 * time.Second
	}
	return &Server{
		cfg:           cfg,
		validate:      validatorv10.New(),
		orders:        map[string]*simOrder{},
		payments:      map[string]*simPayment{},
		confirmations: map[string]confirmReplay{},
	}
}

// Router builds the gin engine with all simulated routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/orders", s.createOrder)
	r.GET("/orders/:id", s.getOrder)

	r.POST("/v1/payments/confirm", s.confirmPayment)
	r.GET("/v1/payments/:key", s.getPayment)
	r.POST("/v1/payments/:key/cancel", s.cancelPayment)

	return r
}

type orderItemPayload struct {
	MenuID    string          `json:"menu_id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type orderAddressPayload struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Contact string `json:"contact,omitempty"`
}

type orderPayload struct {
	ID          string              `json:"id"`
	StoreID     string              `json:"store_id" validate:"required"`
	StoreName   string              `json:"store_name" validate:"required"`
	Status      string              `json:"status"`
	Subtotal    decimal.Decimal     `json:"subtotal"`
	DeliveryFee decimal.Decimal     `json:"delivery_fee"`
	Total       decimal.Decimal     `json:"total"`
	Address     orderAddressPayload `json:"address"`
	HasReview   bool                `json:"has_review"`
	CreatedAt   time.Time           `json:"created_at"`
	Items       []orderItemPayload  `json:"items" validate:"required,min=1,dive"`
}

// progression the simulated kitchen walks through.
var statusProgression = []orders.Status{
	orders.StatusWaiting,
	orders.StatusCooking,
	orders.StatusCooked,
	orders.StatusRiderReady,
	orders.StatusDelivering,
	orders.StatusDelivered,
}

func (s *Server) bindAndValidate(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "message": err.Error()})
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		fields := map[string]string{}
		if ve, ok := err.(validatorv10.ValidationErrors); ok {
			for _, fe := range ve {
				fields[fe.StructNamespace()] = fe.Tag()
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": fields})
		return false
	}
	return true
}

func (s *Server) createOrder(c *gin.Context) {
	var req orderPayload
	if !s.bindAndValidate(c, &req) {
		return
	}

	now := time.Now().UTC()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = string(orders.StatusWaiting)
	req.CreatedAt = now

	s.mu.Lock()
	s.orders[req.ID] = &simOrder{payload: req, createdAt: now}
	s.mu.Unlock()

	c.Header("Location", "/orders/"+req.ID)
	c.JSON(http.StatusCreated, req)
}

func (s *Server) getOrder(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	order, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"code": "ORDER_NOT_FOUND", "message": "no such order"})
		return
	}

	// advance one status step per elapsed StatusStep, stopping at DELIVERED
	steps := int(time.Since(order.createdAt) / s.cfg.StatusStep)
	if steps >= len(statusProgression) {
		steps = len(statusProgression) - 1
	}
	order.payload.Status = string(statusProgression[steps])
	out := order.payload
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

type confirmPayload struct {
	PaymentKey     string `json:"payment_key" validate:"required"`
	OrderID        string `json:"order_id" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

// confirmPayment simulates the provider. Payment keys of the form
// "fail_<CODE>" are rejected with that provider code, which is how failure
// paths are exercised locally. Replayed idempotency keys return the stored
// original response.
func (s *Server) confirmPayment(c *gin.Context) {
	var req confirmPayload
	if !s.bindAndValidate(c, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if replay, ok := s.confirmations[req.IdempotencyKey]; ok {
		c.JSON(replay.status, replay.body)
		return
	}

	if code, ok := strings.CutPrefix(req.PaymentKey, "fail_"); ok {
		body := gin.H{"code": code, "message": "simulated provider rejection"}
		s.confirmations[req.IdempotencyKey] = confirmReplay{status: http.StatusBadRequest, body: body}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	now := time.Now().UTC()
	s.payments[req.PaymentKey] = &simPayment{
		paymentKey: req.PaymentKey,
		status:     "DONE",
		approvedAt: now,
	}
	body := gin.H{
		"payment_key": req.PaymentKey,
		"order_id":    req.OrderID,
		"amount":      req.Amount,
		"status":      "DONE",
		"approved_at": now,
		"card":        gin.H{"company": "DevBank", "number": "****-****-****-4242"},
	}
	s.confirmations[req.IdempotencyKey] = confirmReplay{status: http.StatusOK, body: body}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getPayment(c *gin.Context) {
	key := c.Param("key")

	s.mu.Lock()
	p, ok := s.payments[key]
	s.mu.Unlock()

	if !ok {
		// confirmed nothing yet: still in the checkout window
		c.JSON(http.StatusOK, gin.H{"payment_key": key, "status": "READY"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_key": p.paymentKey, "status": p.status, "approved_at": p.approvedAt})
}

func (s *Server) cancelPayment(c *gin.Context) {
	key := c.Param("key")
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	p, ok := s.payments[key]
	if ok {
		p.status = "CANCELED"
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "PAYMENT_NOT_FOUND", "message": "no such payment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_key": key,
		"status":      "CANCELED",
		"canceled_at": time.Now().UTC(),
		"reason":      req.Reason,
	})
}

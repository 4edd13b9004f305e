// Command demo runs one full checkout flow against a devserver: create an
// order, confirm its payment, then track fulfillment until a terminal status.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/savora/go-order-lifecycle/internal/backend"
	"github.com/savora/go-order-lifecycle/internal/config"
	"github.com/savora/go-order-lifecycle/internal/orders"
	"github.com/savora/go-order-lifecycle/internal/payment"
	"github.com/savora/go-order-lifecycle/internal/storage"
	"github.com/savora/go-order-lifecycle/internal/tracking"
	"github.com/savora/go-order-lifecycle/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	kv, err := storage.OpenSQLite(cfg.StoragePath)
	if err != nil {
		log.Fatalf("open local storage: %v", err)
	}
	store := orders.NewStore(storage.NewGovernor(kv))
	store.Load()

	backendClient := backend.NewClient(transport.NewHTTPClient(cfg.BackendBaseURL))

	var payOpts []payment.Option
	if cfg.SimulatePayments {
		payOpts = append(payOpts, payment.WithSimulatedProvider())
	}
	payClient := payment.NewClient(transport.NewHTTPClient(cfg.ProviderBaseURL), payOpts...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// checkout: provisional order first, so a dead backend still leaves a
	// local record
	subtotal := decimal.NewFromInt(23500)
	fee := decimal.NewFromInt(3000)
	order, err := store.AddOrder(orders.Order{
		StoreID:     "store_001",
		StoreName:   "Golden Wok",
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Total:       subtotal.Add(fee),
		Items: []orders.LineItem{
			{MenuID: "m1", Name: "Kung Pao Chicken", Quantity: 1, UnitPrice: decimal.NewFromInt(15500)},
			{MenuID: "m2", Name: "Fried Rice", Quantity: 2, UnitPrice: decimal.NewFromInt(4000)},
		},
	})
	if err != nil {
		log.Fatalf("add order: %v", err)
	}
	log.Printf("[demo] created order %s (%s)", order.ID, order.Status)

	// hand the provisional record to the backend; its response is
	// authoritative and clears the provisional flag
	if remote, err := backendClient.CreateOrder(ctx, order); err != nil {
		log.Printf("[demo] backend unreachable, keeping provisional order: %v", err)
	} else if err := store.ReplaceOrder(remote); err != nil {
		log.Printf("[demo] replace order: %v", err)
	} else {
		order = remote
	}

	paymentKey := "pay_" + uuid.NewString()
	result, err := payClient.Confirm(ctx, paymentKey, order.ID, order.Total)
	if err != nil {
		log.Fatalf("confirm payment: %v", err)
	}
	log.Printf("[demo] payment %s approved at %s", result.PaymentKey, result.ApprovedAt)

	poller := payment.NewPoller(payClient, paymentKey, cfg.PayPollInterval, cfg.PayPollAttempts)
	poller.OnComplete(func(st payment.StatusResult) {
		log.Printf("[demo] payment settled: %s", st.Status)
	})
	poller.OnError(func(err error) {
		log.Printf("[demo] payment polling gave up: %v", err)
	})
	poller.Start(ctx)

	done := make(chan struct{})
	var finish sync.Once
	markDone := func() { finish.Do(func() { close(done) }) }

	tracker := tracking.New(backendClient, store, order.ID, cfg.TrackInterval)
	tracker.OnStatusChange(func(ch tracking.Change) {
		log.Printf("[demo] order %s: %s -> %s", ch.OrderID, ch.Previous, ch.Current)
		if ch.Current.Terminal() {
			markDone()
		}
	})
	tracker.OnError(func(err error) {
		log.Printf("[demo] tracking stopped: %v", err)
		markDone()
	})
	tracker.StartTracking(ctx)

	// the tracker stops itself on a terminal status even when the very first
	// poll observes it, which fires no status-change callback
	go func() {
		for tracker.IsTracking() {
			time.Sleep(200 * time.Millisecond)
		}
		markDone()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	tracker.StopTracking()
	poller.Stop()

	for _, o := range store.Completed() {
		log.Printf("[demo] completed: %s %s %s", o.ID, o.Status, o.Total)
	}
}

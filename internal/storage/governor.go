package storage

import (
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultOrdersKey is the single key under which the compressed order list
// lives. The value is a JSON array, newest first, capped at MaxPersistedOrders.
const DefaultOrdersKey = "orders.persisted.v1"

// MaxPersistedOrders caps the persisted list; older records past the cap are
// dropped on write. That loss is intentional, not an error.
const MaxPersistedOrders = 50

// PersistedOrder is the compressed projection of an order kept in local
// storage. It is a display record only, never fed back into business logic.
type PersistedOrder struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	StoreName   string          `json:"store_name"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
	MenuSummary string          `json:"menu_summary"`
}

// Governor is the sole reader/writer of the persisted order key. Persistence
// is a best-effort cache: write failures are logged and the key is cleared
// rather than leaving a corrupt partial value, and read failures yield an
// empty list.
type Governor struct {
	kv  KeyValueStore
	key string
	max int
}

// NewGovernor binds a governor to kv under DefaultOrdersKey.
func NewGovernor(kv KeyValueStore) *Governor {
	return &Governor{kv: kv, key: DefaultOrdersKey, max: MaxPersistedOrders}
}

// Persist trims records to the newest max entries by creation time and writes
// them as one JSON blob. Errors never propagate to callers.
func (g *Governor) Persist(records []PersistedOrder) {
	trimmed := make([]PersistedOrder, len(records))
	copy(trimmed, records)
	sort.SliceStable(trimmed, func(i, j int) bool {
		return trimmed[i].CreatedAt.After(trimmed[j].CreatedAt)
	})
	if len(trimmed) > g.max {
		trimmed = trimmed[:g.max]
	}

	payload, err := json.Marshal(trimmed)
	if err != nil {
		log.Printf("[storage] marshal persisted orders failed, clearing key: %v", err)
		g.Clear()
		return
	}
	if err := g.kv.SetItem(g.key, string(payload)); err != nil {
		log.Printf("[storage] write persisted orders failed, clearing key: %v", err)
		g.Clear()
	}
}

// Load reads the persisted list. Missing or corrupt data yields an empty
// list; a corrupt value is cleared so the next write starts fresh.
func (g *Governor) Load() []PersistedOrder {
	raw, ok, err := g.kv.GetItem(g.key)
	if err != nil {
		log.Printf("[storage] read persisted orders failed: %v", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var records []PersistedOrder
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		log.Printf("[storage] corrupt persisted orders, clearing key: %v", err)
		g.Clear()
		return nil
	}
	return records
}

// Clear removes the persisted key entirely.
func (g *Governor) Clear() {
	if err := g.kv.RemoveItem(g.key); err != nil {
		log.Printf("[storage] clear persisted orders failed: %v", err)
	}
}

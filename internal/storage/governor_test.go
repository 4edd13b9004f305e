package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingKV rejects writes, for exercising the clear-on-failure fallback.
type failingKV struct {
	*MemoryStore
	failSet bool
	removed int
}

func (f *failingKV) SetItem(key, value string) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.MemoryStore.SetItem(key, value)
}

func (f *failingKV) RemoveItem(key string) error {
	f.removed++
	return f.MemoryStore.RemoveItem(key)
}

func makeRecords(n int) []PersistedOrder {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	out := make([]PersistedOrder, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, PersistedOrder{
			ID:        fmt.Sprintf("order_%03d", i),
			Status:    "COMPLETED",
			Total:     decimal.NewFromInt(int64(1000 * i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestPersistCapsAtNewestFifty(t *testing.T) {
	kv := NewMemoryStore()
	g := NewGovernor(kv)

	g.Persist(makeRecords(60))

	raw, ok, err := kv.GetItem(DefaultOrdersKey)
	require.NoError(t, err)
	require.True(t, ok)

	var stored []PersistedOrder
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	require.Len(t, stored, MaxPersistedOrders)

	// newest first: the 10 oldest records were dropped
	assert.Equal(t, "order_059", stored[0].ID)
	assert.Equal(t, "order_010", stored[len(stored)-1].ID)
}

func TestPersistDoesNotMutateInput(t *testing.T) {
	kv := NewMemoryStore()
	g := NewGovernor(kv)

	records := makeRecords(3) // oldest first
	g.Persist(records)

	assert.Equal(t, "order_000", records[0].ID, "caller slice left untouched")
}

func TestPersistWriteFailureClearsKey(t *testing.T) {
	kv := &failingKV{MemoryStore: NewMemoryStore()}
	g := NewGovernor(kv)

	g.Persist(makeRecords(5))
	_, ok, _ := kv.GetItem(DefaultOrdersKey)
	require.True(t, ok)

	kv.failSet = true
	g.Persist(makeRecords(5))

	assert.Greater(t, kv.removed, 0, "failed write falls back to clearing the key")
	_, ok, _ = kv.MemoryStore.GetItem(DefaultOrdersKey)
	assert.False(t, ok, "no corrupt partial value left behind")
}

func TestLoadMissingKeyReturnsEmpty(t *testing.T) {
	g := NewGovernor(NewMemoryStore())
	assert.Empty(t, g.Load())
}

func TestLoadCorruptValueClearsAndReturnsEmpty(t *testing.T) {
	kv := NewMemoryStore()
	require.NoError(t, kv.SetItem(DefaultOrdersKey, "{not json"))

	g := NewGovernor(kv)
	assert.Empty(t, g.Load())

	_, ok, _ := kv.GetItem(DefaultOrdersKey)
	assert.False(t, ok, "corrupt value cleared so the next write starts fresh")
}

func TestPersistLoadRoundTrip(t *testing.T) {
	g := NewGovernor(NewMemoryStore())
	records := makeRecords(3)
	g.Persist(records)

	loaded := g.Load()
	require.Len(t, loaded, 3)
	assert.Equal(t, "order_002", loaded[0].ID)
	assert.True(t, loaded[0].Total.Equal(decimal.NewFromInt(2000)))
}

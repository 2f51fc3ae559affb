package kpi

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValueCachePutGet(t *testing.T) {
	cache := NewValueCache(time.Minute)
	defer cache.Stop()

	id := uuid.New()
	v := &Value{ID: uuid.New(), KPIID: id, Value: 42, Period: "month"}
	cache.Put(v, time.Minute)

	got, ok := cache.Get(id, "month")
	assert.True(t, ok)
	assert.Equal(t, v, got)

	// the bare-id key serves period-less lookups
	got, ok = cache.Get(id, "")
	assert.True(t, ok)
	assert.Equal(t, v, got)

	_, ok = cache.Get(id, "week")
	assert.False(t, ok)

	_, ok = cache.Get(uuid.New(), "month")
	assert.False(t, ok)
}

func TestValueCachePutPeriodLeavesLatestSlotAlone(t *testing.T) {
	cache := NewValueCache(time.Minute)
	defer cache.Stop()

	id := uuid.New()
	latest := &Value{ID: uuid.New(), KPIID: id, Value: 100, Period: "day"}
	cache.Put(latest, time.Minute)

	older := &Value{ID: uuid.New(), KPIID: id, Value: 42, Period: "month"}
	cache.PutPeriod(older, time.Minute)

	got, ok := cache.Get(id, "")
	assert.True(t, ok)
	assert.Equal(t, latest, got)

	got, ok = cache.Get(id, "month")
	assert.True(t, ok)
	assert.Equal(t, older, got)
}

func TestValueCacheExpiry(t *testing.T) {
	cache := NewValueCache(10 * time.Millisecond)
	defer cache.Stop()

	id := uuid.New()
	cache.Put(&Value{KPIID: id, Value: 1}, 10*time.Millisecond)

	_, ok := cache.Get(id, "")
	assert.True(t, ok)

	time.Sleep(25 * time.Millisecond)
	_, ok = cache.Get(id, "")
	assert.False(t, ok)
}

func TestValueCacheTTLCappedByMax(t *testing.T) {
	cache := NewValueCache(10 * time.Millisecond)
	defer cache.Stop()

	id := uuid.New()
	cache.Put(&Value{KPIID: id, Value: 1}, time.Hour)

	time.Sleep(25 * time.Millisecond)
	_, ok := cache.Get(id, "")
	assert.False(t, ok)
}

func TestValueCacheInvalidate(t *testing.T) {
	cache := NewValueCache(time.Minute)
	defer cache.Stop()

	id := uuid.New()
	other := uuid.New()
	cache.Put(&Value{KPIID: id, Value: 1, Period: "day"}, time.Minute)
	cache.Put(&Value{KPIID: other, Value: 2, Period: "day"}, time.Minute)

	cache.Invalidate(id)

	_, ok := cache.Get(id, "day")
	assert.False(t, ok)
	_, ok = cache.Get(id, "")
	assert.False(t, ok)

	_, ok = cache.Get(other, "day")
	assert.True(t, ok)
}

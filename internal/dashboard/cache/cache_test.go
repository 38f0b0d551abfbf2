package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/dashboard/models"
)

func TestInMemoryMissThenHit(t *testing.T) {
	c := NewInMemory()
	scope := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}

	_, _, ok := c.Get(context.Background(), scope)
	assert.False(t, ok)

	snapshot := &models.MetricsSnapshot{LeadsCount: 7, CapturedAt: time.Now()}
	c.Put(context.Background(), scope, snapshot)

	got, storedAt, ok := c.Get(context.Background(), scope)
	require.True(t, ok)
	assert.Equal(t, snapshot, got)
	assert.WithinDuration(t, time.Now(), storedAt, time.Second)
}

func TestInMemoryReplacesOnPut(t *testing.T) {
	c := NewInMemory()
	scope := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}

	c.Put(context.Background(), scope, &models.MetricsSnapshot{LeadsCount: 1})
	c.Put(context.Background(), scope, &models.MetricsSnapshot{LeadsCount: 2})

	got, _, ok := c.Get(context.Background(), scope)
	require.True(t, ok)
	assert.Equal(t, 2, got.LeadsCount)
}

func TestInMemoryPutAtKeepsTimestamp(t *testing.T) {
	c := NewInMemory()
	scope := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}
	storedAt := time.Now().Add(-10 * time.Minute)

	c.PutAt(context.Background(), scope, &models.MetricsSnapshot{LeadsCount: 5}, storedAt)

	_, got, ok := c.Get(context.Background(), scope)
	require.True(t, ok)
	assert.Equal(t, storedAt, got)
}

func TestInMemoryScopesAreIndependent(t *testing.T) {
	c := NewInMemory()
	a := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}
	b := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}

	c.Put(context.Background(), a, &models.MetricsSnapshot{LeadsCount: 1})

	_, _, ok := c.Get(context.Background(), b)
	assert.False(t, ok)
}

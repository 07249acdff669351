package prefs

import (
	"context"
	"os"
	"testing"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultAddress = entity.DeviceAddress{Host: "192.168.4.1", Port: 80}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(defaultAddress)
	defer store.Close()

	got, err := store.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultAddress, got)

	next := entity.DeviceAddress{Host: "10.0.0.12", Port: 8080}
	require.NoError(t, store.SetAddress(ctx, next))

	got, err = store.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestMemoryStoreRejectsInvalidAddress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(defaultAddress)

	tests := []entity.DeviceAddress{
		{Host: "", Port: 80},
		{Host: "10.0.0.1", Port: 0},
		{Host: "10.0.0.1", Port: 70000},
	}
	for _, addr := range tests {
		assert.ErrorIs(t, store.SetAddress(ctx, addr), entity.ErrInvalidAddress)
	}

	got, err := store.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultAddress, got)
}

func TestNewAddressStoreFallsBackToMemory(t *testing.T) {
	store := NewAddressStore(context.Background(), RedisOptions{}, defaultAddress)

	_, ok := store.(*memoryStore)
	assert.True(t, ok)
}

// Runs against a real server when ESPDISPLAY_TEST_REDIS is set, e.g. localhost:6379.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("ESPDISPLAY_TEST_REDIS")
	if addr == "" {
		t.Skip("ESPDISPLAY_TEST_REDIS not set")
	}
	ctx := context.Background()

	store, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Key: "espdisplay:test:address"}, defaultAddress)
	require.NoError(t, err)
	defer store.Close()

	next := entity.DeviceAddress{Host: "10.1.1.1", Port: 81}
	require.NoError(t, store.SetAddress(ctx, next))

	got, err := store.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

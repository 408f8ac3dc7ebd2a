package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostGateSpacesSameHost(t *testing.T) {
	gate := NewHostGate(200 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Wait(ctx, "example.com"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 380*time.Millisecond)
}

func TestHostGateHostsAreIndependent(t *testing.T) {
	gate := NewHostGate(time.Second)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, gate.Wait(ctx, "a.example.com"))
	require.NoError(t, gate.Wait(ctx, "b.example.com"))
	require.NoError(t, gate.Wait(ctx, "c.example.com"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestHostGateIgnoresHostCase(t *testing.T) {
	gate := NewHostGate(time.Second)
	require.NoError(t, gate.Wait(context.Background(), "Example.COM"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, gate.Wait(ctx, "example.com"))
}

func TestHostGateDisabled(t *testing.T) {
	gate := NewHostGate(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, gate.Wait(context.Background(), "example.com"))
	}

	var nilGate *HostGate
	assert.NoError(t, nilGate.Wait(context.Background(), "example.com"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, gate.Wait(ctx, "example.com"), context.Canceled)
}

func TestHostGateDeadlineBeforeSlot(t *testing.T) {
	gate := NewHostGate(time.Second)
	require.NoError(t, gate.Wait(context.Background(), "example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := gate.Wait(ctx, "example.com")
	assert.ErrorIs(t, err, ErrGateDeadline)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

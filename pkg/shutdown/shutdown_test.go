package shutdown

import (
	"context"
	"os"
	"testing"
	"time"

	"vkharvest/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_Trigger(t *testing.T) {
	c := New(context.Background(), logger.NewTestLogger())
	defer c.Stop()

	assert.False(t, c.Triggered())
	assert.NoError(t, c.Context().Err())

	c.Trigger()
	c.Trigger()

	assert.True(t, c.Triggered())
	assert.ErrorIs(t, c.Context().Err(), context.Canceled)
	assert.ErrorIs(t, context.Cause(c.Context()), ErrInterrupted)
}

func TestCoordinator_InterruptCancels(t *testing.T) {
	log := logger.NewTestLogger()
	c := New(context.Background(), log)
	defer c.Stop()

	c.sigCh <- os.Interrupt

	select {
	case <-c.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled after interrupt")
	}
	assert.True(t, c.Triggered())

	require.Eventually(t, func() bool {
		return log.HasMessage("interrupt received, finishing current step")
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	c := New(parent, nil)
	defer c.Stop()

	cancel()

	<-c.Context().Done()
	assert.False(t, c.Triggered(), "parent cancellation is not an interrupt")
}

func TestCoordinator_StopIsIdempotent(t *testing.T) {
	c := New(context.Background(), nil)

	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
	assert.NoError(t, c.Context().Err())
}

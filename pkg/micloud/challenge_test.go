package micloud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorSolve(t *testing.T) {
	var c Coordinator[string]

	published := make(chan string, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Solve("answer")
	}()

	outcome, err := c.RequestSolve(context.Background(), "prompt", func(p string) {
		published <- p
	})
	require.NoError(t, err)
	assert.True(t, outcome.Solved)
	assert.Equal(t, "answer", outcome.Value)
	assert.Equal(t, "prompt", <-published)
}

func TestCoordinatorCancel(t *testing.T) {
	var c Coordinator[string]

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Cancel()
	}()

	outcome, err := c.RequestSolve(context.Background(), "prompt", func(string) {})
	require.NoError(t, err)
	assert.True(t, outcome.Cancelled)
}

func TestCoordinatorNewRequestCancelsOldWaiter(t *testing.T) {
	var c Coordinator[string]

	firstDone := make(chan Outcome[string], 1)
	go func() {
		outcome, _ := c.RequestSolve(context.Background(), "first", func(string) {})
		firstDone <- outcome
	}()

	time.Sleep(10 * time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Solve("second-answer")
	}()

	outcome, err := c.RequestSolve(context.Background(), "second", func(string) {})
	require.NoError(t, err)
	assert.True(t, outcome.Solved)
	assert.Equal(t, "second-answer", outcome.Value)

	first := <-firstDone
	assert.True(t, first.Cancelled)
}

func TestCoordinatorCancelOnEmptySlotIsNoop(t *testing.T) {
	var c Coordinator[string]
	assert.NotPanics(t, func() {
		c.Cancel()
		c.Cancel()
	})
}

func TestCoordinatorContextCancellation(t *testing.T) {
	var c Coordinator[string]

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RequestSolve(ctx, "prompt", func(string) {})
	assert.ErrorIs(t, err, context.Canceled)
}

package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescerSubmit(t *testing.T) {
	t.Run("creates batch on first patch", func(t *testing.T) {
		flushChan := make(chan string, 16)
		co := NewCoalescer(flushChan)

		co.Submit(streamCode, "R1", nil, json.RawMessage(`{"content":"x"}`))

		b, ok := co.batches[batchKey(streamCode, "R1")]
		require.True(t, ok, "expected a batch to be created")
		assert.Len(t, b.events, 1, "expected one pending patch")
		assert.NotNil(t, b.timer, "expected a flush timer to be scheduled")

		co.stopAll()
	})

	t.Run("streams are independent batches", func(t *testing.T) {
		flushChan := make(chan string, 16)
		co := NewCoalescer(flushChan)

		co.Submit(streamCode, "R1", nil, json.RawMessage(`"a"`))
		co.Submit(streamWhiteboard, "R1", nil, json.RawMessage(`"b"`))

		assert.Len(t, co.batches, 2, "expected code and whiteboard to batch separately")

		co.stopAll()
	})

	t.Run("burst flushes once with the last patch", func(t *testing.T) {
		flushChan := make(chan string, 16)
		co := NewCoalescer(flushChan)

		co.Submit(streamWhiteboard, "R1", nil, json.RawMessage(`"p1"`))
		time.Sleep(20 * time.Millisecond)
		co.Submit(streamWhiteboard, "R1", nil, json.RawMessage(`"p2"`))
		time.Sleep(20 * time.Millisecond)
		co.Submit(streamWhiteboard, "R1", nil, json.RawMessage(`"p3"`))

		select {
		case key := <-flushChan:
			ev, ok := co.take(key)
			require.True(t, ok, "expected the batch to still be pending")
			assert.Equal(t, json.RawMessage(`"p3"`), ev.patch, "expected the last patch to win")
			assert.Equal(t, "R1", ev.roomId, "expected room id to carry through")
			assert.Equal(t, streamWhiteboard, ev.stream, "expected stream to carry through")
		case <-time.After(time.Second):
			t.Fatal("expected a flush after the quiet period")
		}

		select {
		case <-flushChan:
			t.Fatal("expected exactly one flush for the burst")
		case <-time.After(2 * whiteboardFlushDelay):
		}
	})

	t.Run("patches spaced past the delay flush separately", func(t *testing.T) {
		flushChan := make(chan string, 16)
		co := NewCoalescer(flushChan)

		co.Submit(streamWhiteboard, "R1", nil, json.RawMessage(`"p1"`))

		select {
		case key := <-flushChan:
			ev, ok := co.take(key)
			require.True(t, ok)
			assert.Equal(t, json.RawMessage(`"p1"`), ev.patch, "expected first quiet period to deliver p1")
		case <-time.After(time.Second):
			t.Fatal("expected first flush")
		}

		co.Submit(streamWhiteboard, "R1", nil, json.RawMessage(`"p2"`))

		select {
		case key := <-flushChan:
			ev, ok := co.take(key)
			require.True(t, ok)
			assert.Equal(t, json.RawMessage(`"p2"`), ev.patch, "expected second quiet period to deliver p2")
		case <-time.After(time.Second):
			t.Fatal("expected second flush")
		}
	})
}

func TestCoalescerTake(t *testing.T) {
	flushChan := make(chan string, 16)
	co := NewCoalescer(flushChan)

	co.Submit(streamCode, "R1", nil, json.RawMessage(`"p1"`))
	key := batchKey(streamCode, "R1")

	_, ok := co.take(key)
	assert.True(t, ok, "expected take to drain the batch")
	assert.NotContains(t, co.batches, key, "expected the batch to be removed before anything new observes it")

	_, ok = co.take(key)
	assert.False(t, ok, "expected a second take to find nothing")
}

func TestCoalescerAbandon(t *testing.T) {
	flushChan := make(chan string, 16)
	co := NewCoalescer(flushChan)

	co.Submit(streamCode, "R1", nil, json.RawMessage(`"p1"`))
	co.Submit(streamWhiteboard, "R1", nil, json.RawMessage(`"p2"`))
	co.Submit(streamCode, "R2", nil, json.RawMessage(`"p3"`))

	co.abandon("R1")

	assert.NotContains(t, co.batches, batchKey(streamCode, "R1"), "expected R1 code batch to be dropped")
	assert.NotContains(t, co.batches, batchKey(streamWhiteboard, "R1"), "expected R1 whiteboard batch to be dropped")
	assert.Contains(t, co.batches, batchKey(streamCode, "R2"), "expected R2 batch to survive")

	co.stopAll()
	assert.Empty(t, co.batches, "expected stopAll to clear all batches")
}

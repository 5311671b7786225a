package server

import (
	"encoding/json"
	"time"
)

type streamType string

const (
	streamCode       streamType = "code"
	streamWhiteboard streamType = "whiteboard"
)

const (
	codeFlushDelay       = 250 * time.Millisecond
	whiteboardFlushDelay = 200 * time.Millisecond
)

type pendingPatch struct {
	sender *Client
	patch  json.RawMessage
	at     time.Time
}

type patchBatch struct {
	stream streamType
	roomId string
	events []pendingPatch
	timer  *time.Timer
}

// flushEvent is what a drained batch reduces to: the most recent patch
// stands in for the whole burst, earlier patches are discarded.
type flushEvent struct {
	stream streamType
	roomId string
	sender *Client
	patch  json.RawMessage
}

// Coalescer collapses bursts of fine-grained patches into one broadcast per
// quiet period. Every submit restarts the stream's debounce timer, so a batch
// only flushes once patches stop arriving for the stream delay. Expired
// timers hand their key back to the dispatch loop over flushChan; all map
// access stays on the dispatch goroutine.
type Coalescer struct {
	batches   map[string]*patchBatch
	flushChan chan<- string
}

func NewCoalescer(flushChan chan<- string) *Coalescer {
	return &Coalescer{
		batches:   make(map[string]*patchBatch),
		flushChan: flushChan,
	}
}

func batchKey(stream streamType, roomId string) string {
	return string(stream) + ":" + roomId
}

func flushDelay(stream streamType) time.Duration {
	if stream == streamWhiteboard {
		return whiteboardFlushDelay
	}
	return codeFlushDelay
}

func (co *Coalescer) Submit(stream streamType, roomId string, sender *Client, patch json.RawMessage) {
	key := batchKey(stream, roomId)

	b, ok := co.batches[key]
	if !ok {
		b = &patchBatch{stream: stream, roomId: roomId}
		co.batches[key] = b
	}

	b.events = append(b.events, pendingPatch{sender: sender, patch: patch, at: time.Now()})

	if b.timer != nil {
		b.timer.Stop()
	}

	b.timer = time.AfterFunc(flushDelay(stream), func() {
		co.flushChan <- key
	})
}

// take drains the batch for key. The batch is removed before the caller
// delivers anything, so a new patch arriving during delivery starts a fresh
// batch rather than observing the flushed one.
func (co *Coalescer) take(key string) (flushEvent, bool) {
	b, ok := co.batches[key]
	if !ok || len(b.events) == 0 {
		return flushEvent{}, false
	}

	delete(co.batches, key)
	if b.timer != nil {
		b.timer.Stop()
	}

	last := b.events[len(b.events)-1]
	return flushEvent{
		stream: b.stream,
		roomId: b.roomId,
		sender: last.sender,
		patch:  last.patch,
	}, true
}

// abandon drops any pending batches for a room that has lost its last
// member. There is no one left to deliver to.
func (co *Coalescer) abandon(roomId string) {
	for _, stream := range []streamType{streamCode, streamWhiteboard} {
		key := batchKey(stream, roomId)
		if b, ok := co.batches[key]; ok {
			if b.timer != nil {
				b.timer.Stop()
			}
			delete(co.batches, key)
		}
	}
}

func (co *Coalescer) stopAll() {
	for key, b := range co.batches {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(co.batches, key)
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const clusterChannel = "classroom:rooms"

// Fanout bridges room broadcasts across server processes. The gateway calls
// Publish on every room broadcast unconditionally; when clustering is
// disabled the hook is a no-op.
type Fanout interface {
	Publish(roomId string, msg *ServerMessage)
	Close() error
}

type NoopFanout struct{}

func (NoopFanout) Publish(string, *ServerMessage) {}
func (NoopFanout) Close() error                   { return nil }

// ClusterEnvelope wraps a broadcast with the originating process id so a
// process never re-delivers its own message to co-located connections.
type ClusterEnvelope struct {
	Origin  string         `json:"origin"`
	RoomId  string         `json:"room_id"`
	Message *ServerMessage `json:"message"`
}

type RedisFanout struct {
	log     *log.Logger
	rdb     *redis.Client
	origin  string
	inbound chan<- *ClusterEnvelope
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRedisFanout connects to the shared broker and starts the subscriber.
// Callers treat a returned error as a degradation to single-process mode,
// never as fatal.
func NewRedisFanout(ctx context.Context, url, origin string, inbound chan<- *ClusterEnvelope, logger *log.Logger) (*RedisFanout, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	rf := &RedisFanout{
		log:     logger,
		rdb:     rdb,
		origin:  origin,
		inbound: inbound,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go rf.subscribe(subCtx)

	return rf, nil
}

func (rf *RedisFanout) Publish(roomId string, msg *ServerMessage) {
	env := &ClusterEnvelope{
		Origin:  rf.origin,
		RoomId:  roomId,
		Message: msg,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		rf.log.Println("marshal cluster envelope:", err)
		return
	}

	// fire-and-forget off the realtime path
	go func() {
		if err := rf.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
			rf.log.Println("cluster publish:", err)
		}
	}()
}

func (rf *RedisFanout) subscribe(ctx context.Context) {
	defer close(rf.done)

	sub := rf.rdb.Subscribe(ctx, clusterChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			var env ClusterEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				rf.log.Println("unmarshal cluster envelope:", err)
				continue
			}

			if env.Origin == rf.origin {
				// our own publish echoed back
				continue
			}

			select {
			case rf.inbound <- &env:
			default:
				rf.log.Println("cluster inbound channel full, dropping message")
			}
		}
	}
}

func (rf *RedisFanout) Close() error {
	rf.cancel()
	<-rf.done
	return rf.rdb.Close()
}

package server

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/npezzotti/go-classroom/internal/stats"
	"github.com/npezzotti/go-classroom/internal/store"
	"github.com/npezzotti/go-classroom/internal/types"
	"github.com/teris-io/shortid"
)

const (
	chatRateLimit   = 10
	chatRateWindow  = 5 * time.Second
	doubtRateLimit  = 10
	doubtRateWindow = 5 * time.Second

	bucketSweepInterval = time.Minute
	historyLimit        = 50

	rttThreshold        = 250.0
	packetLossThreshold = 5.0
)

type stopReq struct {
	done chan struct{}
}

// SignalServer is the connection gateway. All in-memory signaling state --
// room membership, rate buckets, pending batches, backpressure counters --
// is mutated only by the dispatch goroutine in Run; the locks below exist
// solely for the read-only metrics and presence queries served off HTTP
// goroutines.
type SignalServer struct {
	log    *log.Logger
	store  store.ClassroomStore
	stats  stats.StatsProvider
	fanout Fanout

	clients     map[*Client]struct{}
	clientsLock sync.Mutex

	rooms     map[string]map[*Client]struct{}
	roomsLock sync.RWMutex

	limiter   *RateLimiter
	coalescer *Coalescer
	pressure  *PressureTracker

	eventChan      chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	flushChan      chan string
	releaseChan    chan string
	clusterChan    chan *ClusterEnvelope
	stop           chan stopReq
}

func NewSignalServer(logger *log.Logger, st store.ClassroomStore, su stats.StatsProvider) (*SignalServer, error) {
	flushChan := make(chan string, 256)
	releaseChan := make(chan string, 1024)

	ss := &SignalServer{
		log:            logger,
		store:          st,
		stats:          su,
		fanout:         NoopFanout{},
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]map[*Client]struct{}),
		limiter:        NewRateLimiter(),
		coalescer:      NewCoalescer(flushChan),
		pressure:       NewPressureTracker(maxOutstanding, releaseDelay, releaseChan),
		eventChan:      make(chan *ClientMessage, 1024),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		flushChan:      flushChan,
		releaseChan:    releaseChan,
		clusterChan:    make(chan *ClusterEnvelope, 256),
		stop:           make(chan stopReq),
	}

	for _, name := range []string{
		"NumConnections",
		"NumRooms",
		"NumChatMessages",
		"NumDoubts",
		"NumFlushes",
		"NumRateLimited",
		"NumBackpressureDrops",
		"NumClusterMessages",
	} {
		su.RegisterMetric(name)
	}

	return ss, nil
}

// SetFanout installs the cluster bridge. Call before Run.
func (ss *SignalServer) SetFanout(f Fanout) {
	ss.fanout = f
}

// Inbound is the channel the cluster bridge delivers remote broadcasts on.
func (ss *SignalServer) Inbound() chan<- *ClusterEnvelope {
	return ss.clusterChan
}

func (ss *SignalServer) RegisterClient(c *Client) {
	ss.RegisterChan <- c
}

func (ss *SignalServer) Run() {
	sweep := time.NewTicker(bucketSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case msg := <-ss.eventChan:
			ss.dispatch(msg)
		case client := <-ss.RegisterChan:
			ss.log.Printf("adding connection from %q", client.user.Name)
			ss.addClient(client)
		case client := <-ss.deRegisterChan:
			ss.log.Printf("removing connection from %q", client.user.Name)
			ss.handleDisconnect(client)
		case key := <-ss.flushChan:
			ss.handleFlush(key)
		case connId := <-ss.releaseChan:
			ss.pressure.Release(connId)
		case env := <-ss.clusterChan:
			ss.handleClusterMessage(env)
		case now := <-sweep.C:
			ss.limiter.sweep(now)
		case req := <-ss.stop:
			ss.teardown()
			close(req.done)
			return
		}
	}
}

func (ss *SignalServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case ss.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ss *SignalServer) teardown() {
	ss.log.Println("shutting down signal server")

	ss.coalescer.stopAll()

	ss.clientsLock.Lock()
	for c := range ss.clients {
		c.stopClient()
	}
	ss.clients = make(map[*Client]struct{})
	ss.clientsLock.Unlock()

	ss.roomsLock.Lock()
	ss.rooms = make(map[string]map[*Client]struct{})
	ss.roomsLock.Unlock()
}

func (ss *SignalServer) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		ss.handleJoin(msg)
	case msg.Leave != nil:
		ss.handleLeave(msg)
	case msg.Chat != nil:
		ss.handleChat(msg)
	case msg.Doubt != nil:
		ss.handleDoubt(msg)
	case msg.CodePatch != nil:
		ss.handlePatch(msg, streamCode, msg.CodePatch)
	case msg.WhiteboardPatch != nil:
		ss.handlePatch(msg, streamWhiteboard, msg.WhiteboardPatch)
	case msg.StateChange != nil:
		ss.handleStateChange(msg)
	case msg.Heartbeat != nil:
		ss.handleHeartbeat(msg)
	case msg.Stats != nil:
		ss.handleStatsReport(msg)
	default:
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (ss *SignalServer) addClient(c *Client) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()
	ss.clients[c] = struct{}{}
	ss.stats.Incr("NumConnections")
}

func (ss *SignalServer) removeClient(c *Client) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()
	if _, ok := ss.clients[c]; !ok {
		return
	}
	delete(ss.clients, c)
	ss.stats.Decr("NumConnections")
}

func (ss *SignalServer) handleJoin(msg *ClientMessage) {
	c := msg.client
	join := msg.Join

	if join.RoomId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	// The join payload is authoritative for identity; the upgrade token only
	// gates access to the endpoint. Empty fields fall back to the token claims.
	if join.UserId != "" {
		c.user = types.User{Id: join.UserId, Name: join.UserName, Role: join.Role}
	}

	// Joining the room the connection is already in simply re-attaches;
	// joining a different room detaches from the old one first.
	if c.room != "" && c.room != join.RoomId {
		ss.detachClient(c, false)
	}
	ss.attachClient(c, join.RoomId)

	count := ss.CountInRoom(join.RoomId)

	ss.broadcast(join.RoomId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		PresenceJoined: &PresenceJoined{
			UserId:           c.user.Id,
			UserName:         c.user.Name,
			Role:             c.user.Role,
			ParticipantCount: count,
		},
		SkipClient: c,
	})

	c.queueMessage(&ServerMessage{
		BaseMessage:   BaseMessage{Id: msg.Id, Timestamp: Now()},
		PresenceCount: &PresenceCount{ParticipantCount: count},
	})

	c.queueMessage(ss.buildHistory(join.RoomId))

	ss.log.Printf("%s (%s) joined room %q", c.user.Name, c.user.Role, join.RoomId)
}

// handleLeave detaches without a departure notification; only a disconnect
// announces presence_left.
func (ss *SignalServer) handleLeave(msg *ClientMessage) {
	c := msg.client
	if c.room == "" || c.room != msg.Leave.RoomId {
		ss.log.Printf("leave for room %q from connection not in it", msg.Leave.RoomId)
		return
	}

	ss.detachClient(c, false)
}

func (ss *SignalServer) handleDisconnect(c *Client) {
	ss.detachClient(c, true)
	ss.pressure.Forget(c.id)
	ss.removeClient(c)
}

func (ss *SignalServer) attachClient(c *Client, roomId string) {
	ss.roomsLock.Lock()
	defer ss.roomsLock.Unlock()

	members, ok := ss.rooms[roomId]
	if !ok {
		members = make(map[*Client]struct{})
		ss.rooms[roomId] = members
		ss.stats.Incr("NumRooms")
	}

	members[c] = struct{}{}
	c.room = roomId
}

// detachClient removes the connection from its room, optionally announcing
// the departure. When the room loses its last member it disappears along
// with any pending batches for it.
func (ss *SignalServer) detachClient(c *Client, notify bool) {
	roomId := c.room
	if roomId == "" {
		return
	}

	ss.roomsLock.Lock()
	members, ok := ss.rooms[roomId]
	if ok {
		delete(members, c)
		if len(members) == 0 {
			delete(ss.rooms, roomId)
			ss.stats.Decr("NumRooms")
		}
	}
	remaining := len(members)
	ss.roomsLock.Unlock()

	c.room = ""

	if remaining == 0 {
		ss.coalescer.abandon(roomId)
		return
	}

	if notify {
		ss.broadcast(roomId, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			PresenceLeft: &PresenceLeft{
				UserId:           c.user.Id,
				UserName:         c.user.Name,
				ParticipantCount: remaining,
			},
		})
	}
}

func (ss *SignalServer) handleChat(msg *ClientMessage) {
	c := msg.client
	if c.room == "" || msg.Chat.RoomId == "" {
		ss.log.Printf("chat from %q outside a room", c.user.Id)
		return
	}
	roomId := msg.Chat.RoomId

	if !ss.limiter.Allow("chat:"+c.user.Id, chatRateLimit, chatRateWindow) {
		ss.stats.Incr("NumRateLimited")
		c.queueMessage(ErrChatRateLimited(msg.Id))
		return
	}

	chat := &types.ChatMessage{
		Id:        newMessageId(),
		RoomId:    roomId,
		UserId:    c.user.Id,
		UserName:  c.user.Name,
		Role:      c.user.Role,
		Message:   msg.Chat.Message,
		Timestamp: msg.Timestamp,
	}

	ss.stats.Incr("NumChatMessages")
	ss.broadcast(roomId, &ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: msg.Timestamp},
		ChatMessage: chat,
	})

	ss.writeBehind("append chat message", func() error {
		return ss.store.AppendChatMessage(store.ChatRecord{
			Id:        chat.Id,
			RoomId:    chat.RoomId,
			UserId:    chat.UserId,
			UserName:  chat.UserName,
			Role:      chat.Role,
			Message:   chat.Message,
			CreatedAt: chat.Timestamp,
		})
	})
}

func (ss *SignalServer) handleDoubt(msg *ClientMessage) {
	c := msg.client
	if c.room == "" || msg.Doubt.RoomId == "" {
		ss.log.Printf("doubt from %q outside a room", c.user.Id)
		return
	}
	roomId := msg.Doubt.RoomId

	if !ss.limiter.Allow("doubt:"+c.user.Id, doubtRateLimit, doubtRateWindow) {
		ss.stats.Incr("NumRateLimited")
		c.queueMessage(ErrDoubtRateLimited(msg.Id))
		return
	}

	doubt := &types.Doubt{
		Id:        newMessageId(),
		RoomId:    roomId,
		UserId:    c.user.Id,
		UserName:  c.user.Name,
		Text:      msg.Doubt.Text,
		Timestamp: msg.Timestamp,
	}

	ss.stats.Incr("NumDoubts")
	ss.broadcast(roomId, &ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: msg.Timestamp},
		DoubtNew:    doubt,
	})

	ss.writeBehind("append doubt", func() error {
		return ss.store.AppendDoubt(store.DoubtRecord{
			Id:        doubt.Id,
			RoomId:    doubt.RoomId,
			UserId:    doubt.UserId,
			UserName:  doubt.UserName,
			Text:      doubt.Text,
			Resolved:  doubt.Resolved,
			CreatedAt: doubt.Timestamp,
		})
	})
}

func (ss *SignalServer) handlePatch(msg *ClientMessage, stream streamType, patch *Patch) {
	c := msg.client
	if c.room == "" || patch.RoomId == "" {
		ss.log.Printf("%s patch from %q outside a room", stream, c.user.Id)
		return
	}

	ss.coalescer.Submit(stream, patch.RoomId, c, patch.Patch)
}

// handleFlush delivers a drained batch: the most recent patch of the quiet
// period, broadcast to the room excluding the contributor whose patch won.
func (ss *SignalServer) handleFlush(key string) {
	ev, ok := ss.coalescer.take(key)
	if !ok {
		return
	}

	ss.stats.Incr("NumFlushes")

	switch ev.stream {
	case streamCode:
		ss.broadcast(ev.roomId, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			CodeUpdate:  &PatchUpdate{RoomId: ev.roomId, Patch: ev.patch},
			SkipClient:  ev.sender,
		})

		var userId string
		if ev.sender != nil {
			userId = ev.sender.user.Id
		}
		patch := ev.patch
		ss.writeBehind("save code snapshot", func() error {
			return ss.store.SaveCodeSnapshot(ev.roomId, userId, patch)
		})
	case streamWhiteboard:
		ss.broadcast(ev.roomId, &ServerMessage{
			BaseMessage:      BaseMessage{Timestamp: Now()},
			WhiteboardUpdate: &PatchUpdate{RoomId: ev.roomId, Patch: ev.patch},
			SkipClient:       ev.sender,
		})
	}
}

func (ss *SignalServer) handleStateChange(msg *ClientMessage) {
	c := msg.client
	if c.room == "" || msg.StateChange.RoomId == "" {
		ss.log.Printf("state change from %q outside a room", c.user.Id)
		return
	}
	roomId := msg.StateChange.RoomId

	// state changes are infrequent, broadcast immediately without coalescing
	ss.broadcast(roomId, &ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: msg.Timestamp},
		StateUpdate: &StateUpdate{RoomId: roomId, State: msg.StateChange.State},
		SkipClient:  c,
	})

	state := msg.StateChange.State
	ss.writeBehind("save room state", func() error {
		return ss.store.SaveRoomState(roomId, state)
	})
}

func (ss *SignalServer) handleHeartbeat(msg *ClientMessage) {
	msg.client.queueMessage(&ServerMessage{
		BaseMessage:  BaseMessage{Id: msg.Id, Timestamp: Now()},
		HeartbeatAck: &HeartbeatAck{ServerTime: Now()},
	})
}

func (ss *SignalServer) handleStatsReport(msg *ClientMessage) {
	report := msg.Stats
	if report.Rtt <= rttThreshold && report.PacketLoss <= packetLossThreshold {
		return
	}

	reason := "packet-loss"
	if report.Rtt > rttThreshold {
		reason = "high-rtt"
	}

	msg.client.queueMessage(&ServerMessage{
		BaseMessage:   BaseMessage{Id: msg.Id, Timestamp: Now()},
		QualityAdjust: &QualityAdjust{Action: "lower", Reason: reason},
	})
}

func (ss *SignalServer) handleClusterMessage(env *ClusterEnvelope) {
	if env == nil || env.Message == nil || env.RoomId == "" {
		return
	}

	ss.stats.Incr("NumClusterMessages")

	// the originating process excluded its own sender; everyone local is a receiver
	env.Message.SkipClient = nil
	ss.deliverLocal(env.RoomId, env.Message)
}

// broadcast delivers to local room members and hands the message to the
// cluster bridge. The bridge is a no-op in single-process mode.
func (ss *SignalServer) broadcast(roomId string, msg *ServerMessage) {
	ss.deliverLocal(roomId, msg)
	ss.fanout.Publish(roomId, msg)
}

func (ss *SignalServer) deliverLocal(roomId string, msg *ServerMessage) {
	ss.roomsLock.RLock()
	members := ss.rooms[roomId]
	receivers := make([]*Client, 0, len(members))
	for c := range members {
		receivers = append(receivers, c)
	}
	ss.roomsLock.RUnlock()

	// whiteboard updates are the high-volume stream; they alone are
	// backpressure-gated per receiver
	gated := msg.WhiteboardUpdate != nil

	for _, client := range receivers {
		if client == msg.SkipClient {
			continue
		}

		if gated {
			if !ss.pressure.CanSend(client.id) {
				ss.stats.Incr("NumBackpressureDrops")
				continue
			}
			if client.queueMessage(msg) {
				ss.pressure.Sent(client.id)
			}
			continue
		}

		client.queueMessage(msg)
	}
}

// buildHistory assembles the replay snapshot for a joining client. Store
// failures degrade to a partial or empty snapshot; the realtime channel is
// the source of truth for "now".
func (ss *SignalServer) buildHistory(roomId string) *ServerMessage {
	hist := &History{}

	records, err := ss.store.GetChatHistory(roomId, historyLimit)
	if err != nil {
		ss.log.Printf("get chat history for %q: %v", roomId, err)
	}
	for _, rec := range records {
		hist.Chat = append(hist.Chat, types.ChatMessage{
			Id:        rec.Id,
			RoomId:    rec.RoomId,
			UserId:    rec.UserId,
			UserName:  rec.UserName,
			Role:      rec.Role,
			Message:   rec.Message,
			Timestamp: rec.CreatedAt,
		})
	}

	snap, err := ss.store.GetCodeSnapshot(roomId)
	if err != nil {
		ss.log.Printf("get code snapshot for %q: %v", roomId, err)
	} else if snap != nil {
		hist.Code = snap.Patch
	}

	stateRec, err := ss.store.GetRoomState(roomId)
	if err != nil {
		ss.log.Printf("get room state for %q: %v", roomId, err)
	} else if stateRec != nil {
		hist.State = stateRec.State
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		History:     hist,
	}
}

func (ss *SignalServer) writeBehind(op string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			ss.log.Printf("write-behind %s: %v", op, err)
		}
	}()
}

func newMessageId() string {
	id, err := shortid.Generate()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return id
}

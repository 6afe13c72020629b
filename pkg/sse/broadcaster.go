package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/api/middleware"
	"github.com/danghamo/convoy/pkg/logger"
)

const (
	defaultHeartbeat = 30 * time.Second
	defaultReplay    = 256
	queueSize        = 1000
	// writeTimeout bounds each frame; the server-wide WriteTimeout would
	// otherwise cut long-lived streams
	writeTimeout = 10 * time.Second
)

// Client is one open event stream. A client without driver filters follows
// every driver.
type Client struct {
	ID         string
	Subscriber string

	drivers  map[string]bool
	w        http.ResponseWriter
	flusher  http.Flusher
	rc       *http.ResponseController
	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex // serializes writes
	lastSeen time.Time
	lastID   uint64 // highest event id written
}

func newClient(id, subscriber string, drivers []string, w http.ResponseWriter, flusher http.Flusher) *Client {
	c := &Client{
		ID:         id,
		Subscriber: subscriber,
		drivers:    make(map[string]bool, len(drivers)),
		w:          w,
		flusher:    flusher,
		rc:         http.NewResponseController(w),
		done:       make(chan struct{}),
		lastSeen:   time.Now(),
	}
	for _, d := range drivers {
		c.drivers[d] = true
	}
	return c
}

// follows reports whether the client wants events about driverID. Events
// without a driver go to everyone.
func (c *Client) follows(driverID string) bool {
	return len(c.drivers) == 0 || driverID == "" || c.drivers[driverID]
}

func (c *Client) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// frame is one encoded event kept for delivery and replay
type frame struct {
	seq      uint64
	driverID string
	data     []byte
}

// SSEBroadcaster fans tracking notifications out to event streams. Every
// event carries a sequence id; reconnecting clients send Last-Event-ID and
// get the recent events they missed.
type SSEBroadcaster struct {
	logger    *logger.Logger
	heartbeat time.Duration

	mu      sync.RWMutex
	clients map[string]*Client

	seq      atomic.Uint64
	replayMu sync.Mutex
	replay   []frame
	replayN  int

	queue     chan frame
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewSSEBroadcaster creates a broadcaster and starts its delivery loops
func NewSSEBroadcaster(logger *logger.Logger) *SSEBroadcaster {
	b := &SSEBroadcaster{
		logger:    logger.WithComponent("sse-broadcaster"),
		heartbeat: defaultHeartbeat,
		clients:   make(map[string]*Client),
		replayN:   defaultReplay,
		queue:     make(chan frame, queueSize),
		shutdown:  make(chan struct{}),
	}

	go b.deliverLoop()
	go b.cleanupLoop()

	return b
}

// AddClient registers an open stream
func (b *SSEBroadcaster) AddClient(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clients[client.ID] = client

	b.logger.Debug("SSE client connected",
		zap.String("clientId", client.ID),
		zap.String("subscriber", client.Subscriber),
		zap.Int("drivers", len(client.drivers)))
}

// RemoveClient unregisters a stream. Removing twice is a no-op.
func (b *SSEBroadcaster) RemoveClient(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if client, ok := b.clients[clientID]; ok {
		client.close()
		delete(b.clients, clientID)
		b.logger.Debug("SSE client disconnected", zap.String("clientId", clientID))
	}
}

// BroadcastToAll sends a notification to every stream
func (b *SSEBroadcaster) BroadcastToAll(notification jsonrpcx.JSONRPCNotification) {
	b.BroadcastForDriver("", notification)
}

// BroadcastForDriver sends a notification to streams following driverID
// and to unfiltered streams. It never blocks; a full queue drops the event.
func (b *SSEBroadcaster) BroadcastForDriver(driverID string, notification jsonrpcx.JSONRPCNotification) {
	payload, err := json.Marshal(notification)
	if err != nil {
		b.logger.Error("Failed to marshal JSON-RPC notification", zap.Error(err))
		return
	}

	select {
	case <-b.shutdown:
		return
	default:
	}

	if !b.publish(driverID, notification.Method, payload) {
		b.logger.Warn("SSE queue full, dropping event",
			zap.String("driverId", driverID),
			zap.String("method", notification.Method))
	}
}

// publish numbers, remembers and enqueues a frame under one lock so the
// replay window and the queue both see frames in id order
func (b *SSEBroadcaster) publish(driverID, event string, payload []byte) bool {
	b.replayMu.Lock()
	defer b.replayMu.Unlock()

	seq := b.seq.Add(1)
	f := frame{seq: seq, driverID: driverID, data: encodeFrame(seq, event, payload)}

	b.replay = append(b.replay, f)
	if len(b.replay) > b.replayN {
		b.replay = b.replay[len(b.replay)-b.replayN:]
	}

	select {
	case b.queue <- f:
		return true
	default:
		return false
	}
}

func encodeFrame(seq uint64, event string, payload []byte) []byte {
	var sb strings.Builder
	sb.Grow(len(payload) + len(event) + 32)
	sb.WriteString("id: ")
	sb.WriteString(strconv.FormatUint(seq, 10))
	sb.WriteString("\n")
	if event != "" {
		sb.WriteString("event: ")
		sb.WriteString(event)
		sb.WriteString("\n")
	}
	sb.WriteString("data: ")
	sb.Write(payload)
	sb.WriteString("\n\n")
	return []byte(sb.String())
}

// missed returns remembered frames after lastID that the client follows
func (b *SSEBroadcaster) missed(client *Client, lastID uint64) []frame {
	b.replayMu.Lock()
	defer b.replayMu.Unlock()

	var out []frame
	for _, f := range b.replay {
		if f.seq > lastID && client.follows(f.driverID) {
			out = append(out, f)
		}
	}
	return out
}

func (b *SSEBroadcaster) recipients(driverID string) []*Client {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		if c.follows(driverID) {
			out = append(out, c)
		}
	}
	return out
}

func (b *SSEBroadcaster) deliverLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in deliverLoop", zap.Any("panic", r))
			go b.deliverLoop()
		}
	}()

	for {
		select {
		case <-b.shutdown:
			return
		case f := <-b.queue:
			var failed []string
			for _, client := range b.recipients(f.driverID) {
				if err := b.send(client, f); err != nil {
					b.logger.Debug("Dropping SSE client",
						zap.String("clientId", client.ID),
						zap.Error(err))
					failed = append(failed, client.ID)
				}
			}
			for _, id := range failed {
				b.RemoveClient(id)
			}
		}
	}
}

// send writes one frame to a client
func (b *SSEBroadcaster) send(client *Client, f frame) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	return b.writeLocked(client, f.seq, f.data)
}

// write sends bytes that are not an event, such as comments
func (b *SSEBroadcaster) write(client *Client, data []byte) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	return b.writeLocked(client, 0, data)
}

// writeLocked writes and flushes with client.mu held. Events at or below
// the client's last id were already delivered and are skipped.
func (b *SSEBroadcaster) writeLocked(client *Client, seq uint64, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while writing: %v", r)
		}
	}()

	if client.closed() {
		return fmt.Errorf("client connection closed")
	}
	if seq > 0 && seq <= client.lastID {
		return nil
	}

	// Not every writer supports deadlines; those simply keep none
	_ = client.rc.SetWriteDeadline(time.Now().Add(writeTimeout))

	n, err := client.w.Write(data)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d/%d bytes", n, len(data))
	}

	client.flusher.Flush()
	client.lastSeen = time.Now()
	if seq > 0 {
		client.lastID = seq
	}
	return nil
}

// cleanupLoop drops clients that missed two heartbeats
func (b *SSEBroadcaster) cleanupLoop() {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdown:
			return
		case now := <-ticker.C:
			var stale []string
			for _, c := range b.recipients("") {
				c.mu.Lock()
				idle := now.Sub(c.lastSeen)
				c.mu.Unlock()
				if idle > 2*b.heartbeat {
					stale = append(stale, c.ID)
				}
			}
			for _, id := range stale {
				b.RemoveClient(id)
			}
		}
	}
}

// GetClientCount returns the number of open streams
func (b *SSEBroadcaster) GetClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close ends every stream. Safe to call more than once.
func (b *SSEBroadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.shutdown)

		b.mu.Lock()
		defer b.mu.Unlock()
		for id, c := range b.clients {
			c.close()
			delete(b.clients, id)
		}
		b.logger.Debug("SSE broadcaster closed")
	})
}

// HandleSSE streams tracking notifications. driver_id (repeatable or
// comma separated) narrows the stream; Last-Event-ID (header or
// last_event_id query) replays recent events.
func (b *SSEBroadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	subscriber, ok := middleware.GetOperator(r.Context())
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		b.logger.Error("Response writer cannot stream")
		http.Error(w, "Server-Sent Events not supported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	client := newClient(uuid.NewString(), subscriber, driverFilter(r), w, flusher)

	// Live delivery waits on client.mu until the replay is written, and
	// then skips whatever the replay already covered
	if err := b.connect(client, r); err != nil {
		b.logger.Debug("SSE handshake failed", zap.String("clientId", client.ID), zap.Error(err))
		b.RemoveClient(client.ID)
		return
	}
	defer b.RemoveClient(client.ID)

	heartbeat := time.NewTicker(b.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-r.Context().Done():
			return
		case <-b.shutdown:
			return
		case now := <-heartbeat.C:
			// Comment lines keep proxies from timing the stream out
			if err := b.write(client, []byte(": heartbeat "+now.UTC().Format(time.RFC3339)+"\n\n")); err != nil {
				b.logger.Debug("Heartbeat failed", zap.String("clientId", client.ID), zap.Error(err))
				return
			}
		}
	}
}

// connect registers the client and writes the greeting plus any replay
func (b *SSEBroadcaster) connect(client *Client, r *http.Request) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	b.AddClient(client)

	hello := fmt.Sprintf("event: connected\ndata: {\"client_id\":%q}\n\n", client.ID)
	if err := b.writeLocked(client, 0, []byte(hello)); err != nil {
		return err
	}

	lastID, ok := lastEventID(r)
	if !ok || lastID > b.seq.Load() {
		// ids from before a restart mean nothing here
		return nil
	}
	client.lastID = lastID
	for _, f := range b.missed(client, lastID) {
		if err := b.writeLocked(client, f.seq, f.data); err != nil {
			return err
		}
	}
	return nil
}

func driverFilter(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["driver_id"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func lastEventID(r *http.Request) (uint64, bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

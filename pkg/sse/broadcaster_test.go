package sse

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/api/middleware"
	"github.com/danghamo/convoy/pkg/logger"
)

// recorder is a concurrency-safe ResponseWriter + Flusher
type recorder struct {
	mu     sync.Mutex
	header http.Header
	buf    bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header { return r.header }
func (r *recorder) WriteHeader(int)     {}
func (r *recorder) Flush()              {}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func addClient(b *SSEBroadcaster, id string, drivers ...string) *recorder {
	rec := newRecorder()
	b.AddClient(newClient(id, "ops", drivers, rec, rec))
	return rec
}

func TestSSEBroadcaster_BroadcastForDriver(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	follower := addClient(b, "c1", "drv-1")
	other := addClient(b, "c2", "drv-2")
	everyone := addClient(b, "c3")
	assert.Equal(t, 3, b.GetClientCount())

	b.BroadcastForDriver("drv-1", jsonrpcx.NewNotification("tracking.location.reported", map[string]any{"driver_id": "drv-1"}))

	assert.Eventually(t, func() bool {
		return strings.Contains(follower.String(), "tracking.location.reported") &&
			strings.Contains(everyone.String(), "tracking.location.reported")
	}, time.Second, 10*time.Millisecond)

	// give the loop a moment in case it would misroute
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, other.String())
	assert.True(t, strings.HasPrefix(follower.String(), "id: 1\nevent: tracking.location.reported\ndata: {"))
	assert.True(t, strings.HasSuffix(follower.String(), "}\n\n"))
}

func TestSSEBroadcaster_BroadcastToAll(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	c1 := addClient(b, "c1", "drv-1")
	c2 := addClient(b, "c2", "drv-2", "drv-3")

	b.BroadcastToAll(jsonrpcx.NewNotification("tracking.stopped", nil))

	assert.Eventually(t, func() bool {
		return strings.Contains(c1.String(), "tracking.stopped") && strings.Contains(c2.String(), "tracking.stopped")
	}, time.Second, 10*time.Millisecond)
}

func TestSSEBroadcaster_RemoveClient(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	addClient(b, "c1")
	b.RemoveClient("c1")
	b.RemoveClient("c1")
	assert.Equal(t, 0, b.GetClientCount())
}

func TestSSEBroadcaster_CloseTwice(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	addClient(b, "c1")

	b.Close()
	b.Close()
	assert.Equal(t, 0, b.GetClientCount())

	// publishing after close must not block or panic
	b.BroadcastToAll(jsonrpcx.NewNotification("late", nil))
}

func TestSSEBroadcaster_ReplayWindow(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()
	b.replayN = 3

	for _, d := range []string{"drv-1", "drv-2", "drv-1", "drv-1"} {
		b.BroadcastForDriver(d, jsonrpcx.NewNotification("tracking.location.reported", nil))
	}

	c := newClient("c", "ops", []string{"drv-1"}, newRecorder(), newRecorder())
	missed := b.missed(c, 1)
	require.Len(t, missed, 2)
	assert.Equal(t, uint64(3), missed[0].seq)
	assert.Equal(t, uint64(4), missed[1].seq)
}

func TestDriverFilterAndLastEventID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/s?driver_id=a,b&driver_id=c&driver_id=", nil)
	assert.Equal(t, []string{"a", "b", "c"}, driverFilter(r))

	_, ok := lastEventID(r)
	assert.False(t, ok)

	r.Header.Set("Last-Event-ID", "42")
	id, ok := lastEventID(r)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)

	r = httptest.NewRequest(http.MethodGet, "/s?last_event_id=7", nil)
	id, ok = lastEventID(r)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), id)
}

func TestHandleSSE_RequiresOperator(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	w := httptest.NewRecorder()
	b.HandleSSE(w, httptest.NewRequest(http.MethodGet, "/api/v1/stream/tracking", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleSSE_StreamsAndReplays(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	// Published before the client connects, recovered through Last-Event-ID
	b.BroadcastForDriver("drv-1", jsonrpcx.NewNotification("tracking.started", nil))

	ctx, cancel := context.WithCancel(middleware.WithOperator(context.Background(), "ops"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/tracking?driver_id=drv-1", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "0")
	rec := newRecorder()

	done := make(chan struct{})
	go func() {
		b.HandleSSE(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)
	b.BroadcastForDriver("drv-1", jsonrpcx.NewNotification("tracking.arrival.changed", nil))

	assert.Eventually(t, func() bool {
		return strings.Contains(rec.String(), "tracking.arrival.changed")
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, rec.String(), "event: connected")
	assert.Contains(t, rec.String(), "event: tracking.started")
	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSSE did not return after cancel")
	}
	assert.Equal(t, 0, b.GetClientCount())
}

// eventIDs returns the id: values in the order they were written
func eventIDs(stream string) []uint64 {
	var ids []uint64
	for _, line := range strings.Split(stream, "\n") {
		if v, ok := strings.CutPrefix(line, "id: "); ok {
			id, _ := strconv.ParseUint(v, 10, 64)
			ids = append(ids, id)
		}
	}
	return ids
}

func TestSSEBroadcaster_SkipsAlreadyDeliveredIDs(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	rec := newRecorder()
	c := newClient("c", "ops", nil, rec, rec)
	c.lastID = 5

	require.NoError(t, b.send(c, frame{seq: 3, data: []byte("id: 3\ndata: {}\n\n")}))
	require.NoError(t, b.send(c, frame{seq: 6, data: []byte("id: 6\ndata: {}\n\n")}))
	require.NoError(t, b.send(c, frame{seq: 6, data: []byte("id: 6\ndata: {}\n\n")}))

	assert.Equal(t, []uint64{6}, eventIDs(rec.String()))
}

func TestHandleSSE_ReplayThenLiveInOrder(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	for i := 0; i < 20; i++ {
		b.BroadcastToAll(jsonrpcx.NewNotification("tracking.location.reported", nil))
	}

	ctx, cancel := context.WithCancel(middleware.WithOperator(context.Background(), "ops"))
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/tracking", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "10")
	rec := newRecorder()

	// Publish while the client is connecting
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			b.BroadcastToAll(jsonrpcx.NewNotification("tracking.location.reported", nil))
		}
	}()
	go b.HandleSSE(rec, req)
	wg.Wait()

	require.Eventually(t, func() bool {
		ids := eventIDs(rec.String())
		return len(ids) > 0 && ids[len(ids)-1] == 40
	}, time.Second, 10*time.Millisecond)

	ids := eventIDs(rec.String())
	assert.Equal(t, uint64(11), ids[0])
	for i := 1; i < len(ids); i++ {
		assert.Equal(t, ids[i-1]+1, ids[i], "ids must be contiguous and ordered: %v", ids)
	}
}

func TestHandleSSE_UnknownLastEventIDIsIgnored(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	ctx, cancel := context.WithCancel(middleware.WithOperator(context.Background(), "ops"))
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/tracking", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "9000")
	rec := newRecorder()
	go b.HandleSSE(rec, req)

	require.Eventually(t, func() bool { return b.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)
	b.BroadcastToAll(jsonrpcx.NewNotification("tracking.started", nil))

	assert.Eventually(t, func() bool {
		return strings.Contains(rec.String(), "event: tracking.started")
	}, time.Second, 10*time.Millisecond)
}

func TestHandleSSE_OutlivesServerWriteTimeout(t *testing.T) {
	b := NewSSEBroadcaster(logger.NewNop())
	defer b.Close()

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.HandleSSE(w, r.WithContext(middleware.WithOperator(r.Context(), "ops")))
	}))
	srv.Config.WriteTimeout = 300 * time.Millisecond
	srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor := func(want string, within time.Duration) {
		t.Helper()
		deadline := time.After(within)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed before %q", want)
				if line == want {
					return
				}
			case <-deadline:
				t.Fatalf("no %q within %s", want, within)
			}
		}
	}

	waitFor("event: connected", time.Second)
	time.Sleep(600 * time.Millisecond)
	b.BroadcastToAll(jsonrpcx.NewNotification("tracking.stopped", nil))
	waitFor("event: tracking.stopped", 2*time.Second)
}

package server

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/session"
)

var fixedNow = time.Date(2024, time.March, 9, 15, 4, 5, 0, time.UTC)

// fakeDecoder maps literal tokens to identities.
type fakeDecoder map[string]identity.Identity

func (d fakeDecoder) Decode(token string) (identity.Identity, error) {
	who, ok := d[token]
	if !ok {
		return identity.Identity{}, identity.ErrInvalidToken
	}
	return who, nil
}

var testUsers = fakeDecoder{
	"token-alice": {ID: "u-alice", Username: "alice", FirstName: "Alice", LastName: "Liddell"},
	"token-bob":   {ID: "u-bob", Username: "bob", FirstName: "Bob"},
	"token-carol": {ID: "u-carol", Username: "carol"},
}

// testEnv wires a hub, registry, broadcaster and router without any network.
// Clients have no connection; their queued frames are read straight off the
// send channel.
type testEnv struct {
	t        *testing.T
	cfg      Config
	log      *zap.Logger
	registry *session.Registry
	hub      *Hub
	out      *Broadcaster
	router   *Router
	metrics  *Metrics
	promReg  *prometheus.Registry
}

func newTestEnv(t *testing.T, opts ...RouterOption) *testEnv {
	t.Helper()

	var seq atomic.Int64
	log := zaptest.NewLogger(t)
	promReg := prometheus.NewRegistry()
	metrics := NewMetrics(promReg)
	registry := session.NewRegistry()
	hub := NewHub(log, metrics)
	out := NewBroadcaster(hub, registry, log, metrics)

	base := []RouterOption{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return fmt.Sprintf("msg-%d", seq.Add(1)) }),
	}
	router := NewRouter(registry, out, testUsers, log, metrics, append(base, opts...)...)

	cfg := *NewConfig()
	cfg.SendBufferSize = 16

	return &testEnv{
		t:        t,
		cfg:      cfg,
		log:      log,
		registry: registry,
		hub:      hub,
		out:      out,
		router:   router,
		metrics:  metrics,
		promReg:  promReg,
	}
}

// open registers a connection that has not authenticated yet.
func (e *testEnv) open() *Client {
	e.t.Helper()
	c := NewClient(nil, e.hub, e.router, "test", e.cfg)
	e.hub.add(c)
	return c
}

// connect opens a connection, authenticates it and discards the welcome.
func (e *testEnv) connect(token string) *Client {
	e.t.Helper()
	c := e.open()
	e.send(c, map[string]any{"type": EventConnection, "data": map[string]string{"token": token}})
	welcome := nextEvent[TextEvent](e.t, c)
	if welcome.Type != EventSystem {
		e.t.Fatalf("Expected welcome system event, got %+v", welcome)
	}
	return c
}

// enter moves c into room and drains everything c receives as a result.
func (e *testEnv) enter(c *Client, name, room string) {
	e.t.Helper()
	e.send(c, map[string]any{"type": EventEnterRoom, "data": map[string]string{"name": name, "room": room}})
	drain(c)
}

func (e *testEnv) send(c *Client, frame any) {
	e.t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		e.t.Fatalf("marshal frame: %v", err)
	}
	e.router.HandleFrame(c, raw)
}

// disconnect runs the same steps as the end of a read pump.
func (e *testEnv) disconnect(c *Client) {
	c.markClosed()
	e.router.HandleClose(c)
	e.hub.remove(c)
}

func nextRaw(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatal("send queue closed while waiting for an event")
		}
		return raw
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func nextEvent[T any](t *testing.T, c *Client) T {
	t.Helper()
	var ev T
	raw := nextRaw(t, c)
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return ev
}

func eventType(t *testing.T, raw []byte) string {
	t.Helper()
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return head.Type
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if ok {
			t.Fatalf("Expected no event, got %s", raw)
		}
	default:
	}
}

// drain empties the queue and returns what was in it.
func drain(c *Client) [][]byte {
	var frames [][]byte
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return frames
			}
			frames = append(frames, raw)
		default:
			return frames
		}
	}
}

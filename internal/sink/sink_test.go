// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/fleetsim/internal/config"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingSink struct {
	name      string
	positions int
	created   []string
	expired   []string
}

func (c *countingSink) Name() string                         { return c.name }
func (c *countingSink) SetVehiclePosition(string, orb.Point) { c.positions++ }
func (c *countingSink) OnEventCreated(ev event.View)         { c.created = append(c.created, ev.ID) }
func (c *countingSink) OnEventExpired(ev event.View)         { c.expired = append(c.expired, ev.ID) }

type brokenSink struct{}

func (brokenSink) Name() string                         { return "broken" }
func (brokenSink) SetVehiclePosition(string, orb.Point) { panic("boom") }
func (brokenSink) OnEventCreated(event.View)            { panic("boom") }
func (brokenSink) OnEventExpired(event.View)            { panic("boom") }

func TestFanout_IsolatesFailingSink(t *testing.T) {
	good := &countingSink{name: "good"}
	f := NewFanout(brokenSink{}, good)
	assert.Equal(t, 2, f.Len())

	assert.NotPanics(t, func() {
		f.SetVehiclePosition("v1", orb.Point{1, 2})
		f.OnEventCreated(event.View{ID: "e1"})
		f.OnEventExpired(event.View{ID: "e1"})
	})
	assert.Equal(t, 1, good.positions)
	assert.Equal(t, []string{"e1"}, good.created)
	assert.Equal(t, []string{"e1"}, good.expired)
}

func TestLogSink_WritesEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(zerolog.New(&buf))
	l.OnEventCreated(event.View{ID: "accident-1", Kind: event.Accident, Severity: event.High, VehicleID: "v1"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "event.created", entry["event"])
	assert.Equal(t, "accident-1", entry["event_id"])
	assert.Equal(t, "accident", entry["kind"])
	assert.Equal(t, "high", entry["severity"])
}

func dialHub(t *testing.T, h *Hub) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(h)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return srv, conn
}

func TestHub_BroadcastsEvents(t *testing.T) {
	h := NewHub(8)
	srv, conn := dialHub(t, h)
	defer srv.Close()
	defer conn.Close()

	h.OnEventCreated(event.View{ID: "closure-1", Kind: event.RoadClosure})
	h.SetVehiclePosition("v1", orb.Point{116.3, 39.9})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first, second Message
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, MessageEventCreated, first.Type)
	require.NotNil(t, first.Event)
	assert.Equal(t, "closure-1", first.Event.ID)
	assert.Equal(t, MessagePosition, second.Type)
	assert.Equal(t, "v1", second.VehicleID)
	require.NotNil(t, second.Position)
	assert.InDelta(t, 116.3, second.Position.Lon(), 1e-9)

	h.Close()
	assert.Equal(t, 0, h.ClientCount())
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	srv, conn := dialHub(t, h)
	defer srv.Close()
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			h.SetVehiclePosition("v1", orb.Point{float64(i), 0})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	h.Close()
}

func TestHub_ClientDisconnectRemoves(t *testing.T) {
	h := NewHub(4)
	srv, conn := dialHub(t, h)
	defer srv.Close()

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	h.Close()
}

type doneToken struct {
	mqtt.Token
	err error
}

func (d doneToken) Wait() bool                     { return true }
func (d doneToken) WaitTimeout(time.Duration) bool { return true }
func (d doneToken) Error() error                   { return d.err }
func (d doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, payload: payload.([]byte)})
	return doneToken{err: f.err}
}

func TestMQTT_ThrottlesPositions(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMQTTWithPublisher(pub, config.MQTTConfig{TopicPrefix: "sim", MinInterval: time.Second})
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.SetVehiclePosition("v1", orb.Point{1, 2})
	m.SetVehiclePosition("v1", orb.Point{1, 3})
	m.SetVehiclePosition("v2", orb.Point{5, 6})
	now = now.Add(time.Second)
	m.SetVehiclePosition("v1", orb.Point{1, 4})

	require.Len(t, pub.msgs, 3)
	assert.Equal(t, "sim/vehicles/v1/position", pub.msgs[0].topic)
	assert.Equal(t, "sim/vehicles/v2/position", pub.msgs[1].topic)

	var p PositionPayload
	require.NoError(t, json.Unmarshal(pub.msgs[2].payload, &p))
	assert.Equal(t, "v1", p.VehicleID)
	assert.InDelta(t, 4.0, p.Lat, 1e-9)
}

func TestMQTT_EventTopics(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	m := NewMQTTWithPublisher(pub, config.MQTTConfig{})

	m.OnEventCreated(event.View{ID: "jam-1", Kind: event.TrafficJam})
	m.OnEventExpired(event.View{ID: "jam-1", Kind: event.TrafficJam})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "fleetsim/events/traffic_jam/created", pub.msgs[0].topic)
	assert.Equal(t, "fleetsim/events/traffic_jam/expired", pub.msgs[1].topic)
	assert.Contains(t, string(pub.msgs[0].payload), `"id":"jam-1"`)
}

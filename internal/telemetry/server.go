// Package telemetry broadcasts master/channel meter snapshots to
// connected UI clients over WebSocket (spec §9 enrichment: a remote
// desk-like UI needs a transport for the metering data package meter
// already publishes lock-free on the audio thread).
//
// The teacher's own go.mod carries gorilla/websocket only as an
// indirect dependency (pulled in transitively by bwmarrin/discordgo's
// gateway connection); nothing in the teacher imports it directly. This
// package gives it its first direct call site in this tree, grounded on
// the conventional upgrade-then-broadcast-hub shape gorilla/websocket is
// built around, with client bookkeeping styled on the teacher's
// mutex-guarded registries (e.g. ssrc_manager.go's guarded map of live
// sessions).
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshot is one broadcast frame's payload; callers fill it from
// engine.Engine's meter accessors.
type Snapshot struct {
	SampleClock uint64             `json:"sample_clock"`
	Master      map[string]float32 `json:"master"`
	Channels    map[int]ChannelMeters `json:"channels"`
}

// ChannelMeters is one channel's published meter values.
type ChannelMeters struct {
	InputPeakDB  float32 `json:"input_peak_db"`
	OutputPeakDB float32 `json:"output_peak_db"`
}

// Source supplies the periodic snapshot; engine.Engine implements it.
type Source interface {
	TelemetrySnapshot() Snapshot
}

// Hub upgrades incoming HTTP connections to WebSocket and broadcasts
// periodic snapshots from Source to every connected client.
type Hub struct {
	source   Source
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	stop chan struct{}
	done chan struct{}
}

// NewHub constructs a broadcast hub; call Run to start the broadcast
// loop and ServeHTTP to accept connections.
func NewHub(source Source, interval time.Duration, log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Hub{
		source:   source,
		interval: interval,
		log:      log,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP implements http.Handler, upgrading each request to a
// WebSocket connection registered for broadcast.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("telemetry: websocket upgrade failed")
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	h.log.Info("telemetry: client connected")
	go h.readUntilClosed(conn)
}

// readUntilClosed drains and discards client frames (this is a
// one-way broadcast channel) solely to detect disconnects.
func (h *Hub) readUntilClosed(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
	h.log.Info("telemetry: client disconnected")
}

// Run starts the broadcast loop; blocks until stopped.
func (h *Hub) Run() {
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

// Stop ends the broadcast loop and waits for it to exit.
func (h *Hub) Stop() {
	if h.stop == nil {
		return
	}
	close(h.stop)
	<-h.done
}

func (h *Hub) broadcast() {
	snap := h.source.TelemetrySnapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		h.log.WithError(err).Warn("telemetry: marshal snapshot failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.WithError(err).Debug("telemetry: write failed, dropping client")
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/model"
)

// TopicDashboard subscribers receive every event; per-job subscribers
// only events for their job.
const TopicDashboard = "dashboard"

// JobTopic returns the subscription topic for one job's events.
func JobTopic(jobID string) string {
	return "job:" + jobID
}

// Recorder persists events to the activity log so reconnecting
// dashboards can backfill history.
type Recorder interface {
	AddActivityLog(logType, message string) error
}

// Client represents one observer connection.
type Client struct {
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub fans queue events out to observer connections. Delivery is
// best-effort: Publish never blocks, and events emitted while the
// buffer is full or no observer is connected are dropped. Observers
// reconcile by polling current state on reconnect.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan model.Event

	recorder Recorder
	log      *zap.Logger
	mu       sync.RWMutex
}

// NewHub creates a hub. recorder may be nil to skip history.
func NewHub(recorder Recorder, log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan model.Event, 256),
		recorder:   recorder,
		log:        log,
	}
}

// Publish enqueues an event for broadcast. It never blocks: when the
// hub is saturated the event is dropped rather than stalling the state
// transition that produced it.
func (h *Hub) Publish(ev model.Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Debug("event dropped", zap.String("kind", string(ev.Kind)))
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.Topic]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.Topic)
					}
				}
			}
			h.mu.Unlock()

		case ev := <-h.events:
			h.record(ev)
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("marshal event", zap.Error(err))
				continue
			}
			h.mu.Lock()
			h.deliver(TopicDashboard, data)
			if ev.JobID != "" {
				h.deliver(JobTopic(ev.JobID), data)
			}
			h.mu.Unlock()
		}
	}
}

// deliver pushes data to one topic's clients; a client that cannot keep
// up is disconnected. Caller holds the lock.
func (h *Hub) deliver(topic string, data []byte) {
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			close(client.Send)
			delete(h.clients[topic], client)
		}
	}
}

func (h *Hub) record(ev model.Event) {
	if h.recorder == nil {
		return
	}
	logType, message, ok := ev.LogEntry()
	if !ok {
		return
	}
	if err := h.recorder.AddActivityLog(logType, message); err != nil {
		h.log.Warn("activity log write failed", zap.Error(err))
	}
}

// HandleConnection serves one observer connection until it closes.
// initial, when non-nil, is sent first so the observer starts from a
// consistent snapshot before the event stream.
func (h *Hub) HandleConnection(c *websocket.Conn, topic string, initial []byte) {
	client := &Client{
		Topic: topic,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.register <- client
	defer func() { h.unregister <- client }()

	if initial != nil {
		client.Send <- initial
	}

	// Writer goroutine with keep-alive pings.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}
			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop; observers only send keep-alive traffic.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket closed", zap.Error(err))
			}
			break
		}
	}
}

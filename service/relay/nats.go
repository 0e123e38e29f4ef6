package relay

import (
	"encoding/json"
	"strings"
	"time"

	"NProject/logger"

	"github.com/nats-io/nats.go"
)

// Relay taps every room broadcast onto NATS so out-of-process consumers
// (notification fan-out, activity feeds, sibling nodes' observers) can follow
// live rooms without holding a websocket. Core mode, no persistence.
type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

type Envelope struct {
	NoteID  string `json:"note_id"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	NodeID  string `json:"node_id"`
	Ts      int64  `json:"ts"`
}

type Relay struct {
	nc     *nats.Conn
	nodeID string
}

func subjectFor(noteID string) string { return "collab.room." + noteID }

func NewRelay(cfg Config, nodeID string) (*Relay, error) {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &Relay{nc: nc, nodeID: nodeID}, nil
}

// Publish mirrors one room event. Best effort: a publish error is logged and
// dropped, never surfaced to the room.
func (r *Relay) Publish(noteID, event string, payload any) {
	env := Envelope{
		NoteID:  noteID,
		Event:   event,
		Payload: payload,
		NodeID:  r.nodeID,
		Ts:      time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := r.nc.Publish(subjectFor(noteID), raw); err != nil {
		logger.Warnf("[relay] publish note=%s event=%s err=%v", noteID, event, err)
	}
}

// Subscribe delivers every relayed event for noteID ("*" for all notes) to fn.
func (r *Relay) Subscribe(noteID string, fn func(Envelope)) (*nats.Subscription, error) {
	return r.nc.Subscribe(subjectFor(noteID), func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			return
		}
		fn(env)
	})
}

func (r *Relay) Close() {
	if r.nc != nil {
		_ = r.nc.Drain()
	}
}

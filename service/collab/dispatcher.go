package collab

import (
	"github.com/golang/glog"
)

// Handler processes one inbound frame type.
type Handler interface {
	Event() string
	Handle(ctx *Context, frame *Frame, conn *WsConn) error
}

// Dispatcher routes inbound frames to their handler by event name.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.Event()] = h
}

func (d *Dispatcher) GetHandler(event string) (Handler, bool) {
	h, ok := d.handlers[event]
	if !ok {
		glog.Infof("no handler for event %s", event)
	}
	return h, ok
}

package chat

import (
	"github.com/nexmarket/realtime/tools/errs"
)

// HandlerFunc handles one inbound frame on one connection.
type HandlerFunc func(f *Frame, c *Conn) error

type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(frameType string, h HandlerFunc) {
	d.handlers[frameType] = h
}

func (d *Dispatcher) Dispatch(f *Frame, c *Conn) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return errs.ErrValidation.WrapMsg("no handler", "type", f.Type)
	}
	return h(f, c)
}

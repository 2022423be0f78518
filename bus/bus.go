// Package bus routes CAN frames between a transport and the consumers that
// registered for them. It is deliberately thin: consumers see raw identifiers
// and payload words, the bus only owns the handler list and the set of
// identifiers of interest.
package bus

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// MaxUserMessages caps how many identifiers of interest can be registered,
// mirroring the filter bank capacity of a CAN controller.
const MaxUserMessages = 30

// ErrReadTimeout is returned by transports when a read deadline passes with
// no frame. The dispatch loop treats it as "check context and keep reading".
var ErrReadTimeout = errors.New("frame read timeout")

// Handler consumes inbound frames. Handlers are tried in registration order
// until one claims the frame. HandleClear is broadcast after the registered
// identifiers of interest were dropped, so handlers can register theirs
// again.
type Handler interface {
	HandleFrame(canID uint32, data [2]uint32) bool
	HandleClear()
}

// Transport moves frames on and off the physical (or simulated) bus.
type Transport interface {
	SendFrame(f Frame) error
	ReadFrame() (Frame, error)
	Close() error
}

// Bus dispatches inbound frames to handlers and sends outbound frames
// through the transport.
type Bus struct {
	transport Transport
	handlers  []Handler
	userIDs   []uint32
	log       logrus.FieldLogger
}

// New creates a bus on the given transport. A nil transport is allowed and
// turns Send into a no-op; useful for tests and tools that only dispatch.
func New(transport Transport) *Bus {
	return &Bus{
		transport: transport,
		log:       logrus.StandardLogger(),
	}
}

// SetLogger replaces the default logger.
func (b *Bus) SetLogger(log logrus.FieldLogger) {
	b.log = log
}

// AddReceiveCallback appends a handler to the dispatch order.
func (b *Bus) AddReceiveCallback(h Handler) {
	b.handlers = append(b.handlers, h)
}

// RegisterUserMessage records an identifier of interest, used as a filter
// hint by transports that support it. Reports whether there was room.
func (b *Bus) RegisterUserMessage(canID uint32) bool {
	if len(b.userIDs) >= MaxUserMessages {
		return false
	}
	b.userIDs = append(b.userIDs, canID)
	return true
}

// UserMessages returns the currently registered identifiers of interest.
func (b *Bus) UserMessages() []uint32 {
	ids := make([]uint32, len(b.userIDs))
	copy(ids, b.userIDs)
	return ids
}

// ClearUserMessages drops all identifiers of interest and broadcasts
// HandleClear so handlers re-register the ones they still need.
func (b *Bus) ClearUserMessages() {
	b.userIDs = b.userIDs[:0]
	for _, h := range b.handlers {
		h.HandleClear()
	}
}

// Send transmits one frame. Transport errors are logged, not returned: the
// senders (periodic encode, protocol replies) have no meaningful way to
// react.
func (b *Bus) Send(canID uint32, data [2]uint32) {
	if b.transport == nil {
		return
	}
	if err := b.transport.SendFrame(FrameFromWords(canID, data)); err != nil {
		b.log.WithError(err).WithField("canId", canID).Error("frame send failed")
	}
}

// HandleRx offers one inbound frame to the handlers in registration order.
// Reports whether any handler claimed it.
func (b *Bus) HandleRx(f Frame) bool {
	data := f.PayloadWords()
	for _, h := range b.handlers {
		if h.HandleFrame(f.ID, data) {
			return true
		}
	}
	return false
}

// Run reads frames from the transport and dispatches them until ctx is done
// or the transport fails. Read timeouts only poll the context.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := b.transport.ReadFrame()
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			b.log.WithError(err).Error("frame read failed")
			return err
		}
		b.HandleRx(f)
	}
}

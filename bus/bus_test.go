package bus

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	claim   bool
	frames  []uint32
	cleared int
}

func (h *recordingHandler) HandleFrame(canID uint32, data [2]uint32) bool {
	h.frames = append(h.frames, canID)
	return h.claim
}

func (h *recordingHandler) HandleClear() { h.cleared++ }

type fakeTransport struct {
	sent    []Frame
	pending []Frame
}

func (t *fakeTransport) SendFrame(f Frame) error { t.sent = append(t.sent, f); return nil }

func (t *fakeTransport) ReadFrame() (Frame, error) {
	if len(t.pending) == 0 {
		return Frame{}, io.EOF
	}
	f := t.pending[0]
	t.pending = t.pending[1:]
	return f, nil
}

func (t *fakeTransport) Close() error { return nil }

func TestFrame_payloadWordsRoundTrip(t *testing.T) {
	f := FrameFromWords(0x100, [2]uint32{0x04030201, 0x08070605})

	assert.Equal(t, uint8(8), f.Length)
	assert.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, f.Data, "payload words are little-endian")
	assert.Equal(t, [2]uint32{0x04030201, 0x08070605}, f.PayloadWords())
}

func TestFrame_Extended(t *testing.T) {
	assert.False(t, Frame{ID: 0x7FF}.Extended())
	assert.True(t, Frame{ID: 0x800}.Extended())
}

func TestBus_HandleRx_firstMatchWins(t *testing.T) {
	first := &recordingHandler{claim: false}
	second := &recordingHandler{claim: true}
	third := &recordingHandler{claim: true}

	b := New(nil)
	b.AddReceiveCallback(first)
	b.AddReceiveCallback(second)
	b.AddReceiveCallback(third)

	claimed := b.HandleRx(Frame{ID: 0x100})

	assert.True(t, claimed)
	assert.Equal(t, []uint32{0x100}, first.frames)
	assert.Equal(t, []uint32{0x100}, second.frames)
	assert.Empty(t, third.frames, "handlers after the claimer are not tried")
}

func TestBus_HandleRx_unclaimed(t *testing.T) {
	h := &recordingHandler{claim: false}
	b := New(nil)
	b.AddReceiveCallback(h)

	assert.False(t, b.HandleRx(Frame{ID: 0x100}))
}

func TestBus_RegisterUserMessage_capacity(t *testing.T) {
	b := New(nil)

	for i := 0; i < MaxUserMessages; i++ {
		require.True(t, b.RegisterUserMessage(uint32(i)))
	}
	assert.False(t, b.RegisterUserMessage(0x999))
	assert.Len(t, b.UserMessages(), MaxUserMessages)
}

func TestBus_ClearUserMessages_broadcastsClear(t *testing.T) {
	h := &recordingHandler{}
	b := New(nil)
	b.AddReceiveCallback(h)
	b.RegisterUserMessage(0x100)

	b.ClearUserMessages()

	assert.Empty(t, b.UserMessages())
	assert.Equal(t, 1, h.cleared)
}

func TestBus_Send(t *testing.T) {
	tr := &fakeTransport{}
	b := New(tr)

	b.Send(0x100, [2]uint32{42, 0})

	require.Len(t, tr.sent, 1)
	assert.Equal(t, FrameFromWords(0x100, [2]uint32{42, 0}), tr.sent[0])
}

func TestBus_Run_dispatchesUntilTransportEnds(t *testing.T) {
	h := &recordingHandler{claim: true}
	tr := &fakeTransport{pending: []Frame{{ID: 0x100}, {ID: 0x200}}}
	b := New(tr)
	b.AddReceiveCallback(h)

	err := b.Run(context.Background())

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []uint32{0x100, 0x200}, h.frames)
}

func TestBus_Run_contextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := New(&fakeTransport{})

	assert.ErrorIs(t, b.Run(ctx), context.Canceled)
}

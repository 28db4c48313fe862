package channel

import (
	"context"
	"testing"

	"legendflow/models"
)

func TestSendFrameCountsSent(t *testing.T) {
	c := NewChannels(4)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if !c.SendFrame(ctx, models.RawFrame{RawText: "x"}) {
			t.Fatalf("send %d rejected with room in the buffer", i)
		}
	}

	stats := c.GetStats()
	if stats.Sent != 3 || stats.Dropped != 0 {
		t.Errorf("stats = %+v, want 3 sent, 0 dropped", stats)
	}
	if len(c.Frames) != 3 {
		t.Errorf("buffered frames = %d, want 3", len(c.Frames))
	}
}

func TestSendFrameDropsWhenFull(t *testing.T) {
	c := NewChannels(1)
	defer c.Close()

	ctx := context.Background()
	if !c.SendFrame(ctx, models.RawFrame{RawText: "first"}) {
		t.Fatal("first send rejected")
	}
	// Buffer full and no consumer: the send must return immediately.
	if c.SendFrame(ctx, models.RawFrame{RawText: "second"}) {
		t.Fatal("send accepted into a full buffer")
	}

	stats := c.GetStats()
	if stats.Sent != 1 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want 1 sent, 1 dropped", stats)
	}

	frame := <-c.Frames
	if frame.RawText != "first" {
		t.Errorf("kept frame = %q, want the first one", frame.RawText)
	}
}

func TestSendFrameCancelledContext(t *testing.T) {
	c := NewChannels(1)
	defer c.Close()

	if !c.SendFrame(context.Background(), models.RawFrame{}) {
		t.Fatal("first send rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.SendFrame(ctx, models.RawFrame{}) {
		t.Fatal("send accepted after cancellation with a full buffer")
	}
}

package channel

import (
	"context"
	"sync"

	"legendflow/logger"
	"legendflow/models"
)

type FrameStats struct {
	Sent    int64
	Dropped int64
}

// Channels is the bounded queue between the frame source and the dispatch
// worker. Sends never block: when the buffer is full the frame is dropped
// and counted, so a slow consumer cannot back-pressure the browser layer.
type Channels struct {
	Frames chan models.RawFrame

	stats      FrameStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(frameBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Frames: make(chan models.RawFrame, frameBufferSize),
		log:    log,
	}

	log.WithComponent("frame_channels").WithFields(logger.Fields{
		"frame_buffer_size": frameBufferSize,
	}).Info("frame channel initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Frames)
	c.log.WithComponent("frame_channels").Info("frame channel closed")
}

func (c *Channels) SendFrame(ctx context.Context, frame models.RawFrame) bool {
	select {
	case c.Frames <- frame:
		c.statsMutex.Lock()
		c.stats.Sent++
		c.statsMutex.Unlock()
		logger.RecordStreamMessage("frames", len(frame.RawText))
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.Dropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() FrameStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

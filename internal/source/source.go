package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "legendflow/config"
	"legendflow/internal/channel"
	"legendflow/logger"
	"legendflow/models"
)

// Source maintains the websocket connection to the streaming endpoint and
// pushes every received message into the frame channel as a RawFrame. A
// rate limiter throttles redials so a flapping endpoint cannot turn into a
// dial storm. Reconnect satisfies the watchdog's recovery callback: it
// drops the live connection and lets the dial loop establish a new one.
type Source struct {
	config   *appconfig.Config
	channels *channel.Channels
	limiter  *rate.Limiter

	connMu sync.Mutex
	conn   *websocket.Conn

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewSource(cfg *appconfig.Config, channels *channel.Channels) *Source {
	redial := cfg.Source.RedialInterval
	if redial <= 0 {
		redial = 5 * time.Second
	}
	return &Source{
		config:   cfg,
		channels: channels,
		limiter:  rate.NewLimiter(rate.Every(redial), 1),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("source already running")
	}
	if s.config.Source.Endpoint == "" {
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("source endpoint not configured")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	s.log.WithComponent("source").WithFields(logger.Fields{
		"endpoint": s.config.Source.Endpoint,
	}).Info("starting frame source")

	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *Source) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.Reconnect()
	s.wg.Wait()
	s.log.WithComponent("source").Info("frame source stopped")
}

// Reconnect closes the live connection, forcing the dial loop to establish
// a fresh one. Safe to call from any goroutine; invoked by the watchdog.
func (s *Source) Reconnect() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		s.log.WithComponent("source").Info("dropping live connection for reconnect")
		conn.Close()
	}
}

func (s *Source) run() {
	defer s.wg.Done()

	log := s.log.WithComponent("source")
	url := s.config.Source.Endpoint

	for {
		if s.ctx.Err() != nil {
			return
		}
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: s.config.Source.DialTimeout}
		conn, _, err := dialer.DialContext(s.ctx, url, nil)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"url": url}).Warn("failed to connect to streaming endpoint")
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		log.WithFields(logger.Fields{"url": url}).Info("connected to streaming endpoint")

		s.readLoop(conn, url)

		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		conn.Close()
	}
}

func (s *Source) readLoop(conn *websocket.Conn, url string) {
	log := s.log.WithComponent("source")

	for {
		if s.ctx.Err() != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				log.WithError(err).Warn("websocket read loop ended")
			}
			return
		}

		frame := models.RawFrame{
			Transport:   models.TransportWebSocket,
			SourceURL:   url,
			TimestampMs: time.Now().UnixMilli(),
			RawText:     string(msg),
		}
		var parsed any
		if err := json.Unmarshal(msg, &parsed); err == nil {
			frame.ParsedJSON = parsed
		}

		if !s.channels.SendFrame(s.ctx, frame) && s.ctx.Err() == nil {
			log.Debug("frame dropped, channel full")
		}
	}
}

// PushHTTPBody feeds an HTTP response body captured by the page layer into
// the pipeline as a frame.
func (s *Source) PushHTTPBody(ctx context.Context, sourceURL, body string) bool {
	frame := models.RawFrame{
		Transport:   models.TransportHTTP,
		SourceURL:   sourceURL,
		TimestampMs: time.Now().UnixMilli(),
		RawText:     body,
	}
	var parsed any
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		frame.ParsedJSON = parsed
	}
	return s.channels.SendFrame(ctx, frame)
}

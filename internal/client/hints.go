package client

import (
	"context"
	"encoding/json"
	"time"

	"krewup-messaging/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Invalidator is the part of syncer.Bus the listener needs.
type Invalidator interface {
	Invalidate(key string)
}

// HintListener holds a websocket open to the server and turns each
// invalidation hint into Invalidate calls. Polling keeps working while it is
// disconnected; hints only shorten the wait.
type HintListener struct {
	url    string
	bus    Invalidator
	keys   func() []string
	dialer *websocket.Dialer
	logger zerolog.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// NewHintListener dials url. keys lists the currently cached query keys; after
// a reconnect every one of them is invalidated to cover hints missed while
// disconnected. keys may be nil.
func NewHintListener(url string, bus Invalidator, keys func() []string, logger zerolog.Logger) *HintListener {
	return &HintListener{
		url:        url,
		bus:        bus,
		keys:       keys,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     logger.With().Str("component", "hints").Logger(),
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Run connects and reconnects with capped exponential backoff until ctx is done.
func (l *HintListener) Run(ctx context.Context) {
	backoff := l.MinBackoff
	connected := false
	for {
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err == nil {
			if connected {
				l.resync()
			}
			connected = true
			backoff = l.MinBackoff
			l.logger.Debug().Msg("hint stream connected")
			err = l.read(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}
		l.logger.Debug().Err(err).Dur("retry_in", backoff).Msg("hint stream disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.MaxBackoff {
			backoff = l.MaxBackoff
		}
	}
}

func (l *HintListener) read(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var hint models.InvalidationHint
		if err := json.Unmarshal(raw, &hint); err != nil {
			l.logger.Warn().Err(err).Msg("ignoring malformed hint")
			continue
		}
		if hint.Type != models.HintTypeInvalidate {
			continue
		}
		for _, key := range hint.Keys {
			l.bus.Invalidate(key)
		}
	}
}

func (l *HintListener) resync() {
	if l.keys == nil {
		l.bus.Invalidate(models.ConversationsQueryKey)
		return
	}
	for _, key := range l.keys() {
		l.bus.Invalidate(key)
	}
}

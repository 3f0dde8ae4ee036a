package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// NotifyChannel is the NOTIFY channel every change trigger writes to. The
// migrations hardcode it.
const NotifyChannel = "creative_changes"

// PGListener turns Postgres notifications into parsed changes.
type PGListener struct {
	dsn     string
	channel string
	logger  zerolog.Logger
	sinks   []func(Change)
}

// NewPGListener listens on channel (NotifyChannel when empty) and passes
// every valid change to each sink in order.
func NewPGListener(dsn, channel string, logger zerolog.Logger, sinks ...func(Change)) *PGListener {
	if channel == "" {
		channel = NotifyChannel
	}
	return &PGListener{dsn: dsn, channel: channel, logger: logger, sinks: sinks}
}

// Run blocks until ctx is done. lib/pq reconnects the underlying connection
// on its own; a nil notification marks such a reconnect.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.logger.Info().Str("channel", l.channel).Msg("realtime: listener connected")
		case pq.ListenerEventDisconnected:
			l.logger.Warn().Err(err).Str("channel", l.channel).Msg("realtime: listener disconnected")
		case pq.ListenerEventReconnected:
			l.logger.Info().Str("channel", l.channel).Msg("realtime: listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn().Err(err).Str("channel", l.channel).Msg("realtime: listener connection attempt failed")
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				continue
			}
			l.Handle([]byte(n.Extra))
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn().Err(err).Msg("realtime: listener ping failed")
			}
		}
	}
}

// Handle parses one payload and forwards it to the sinks.
func (l *PGListener) Handle(payload []byte) {
	change, err := ParseChange(payload)
	if err != nil {
		l.logger.Warn().Err(err).Str("channel", l.channel).Msg("realtime: dropping notification")
		return
	}
	for _, sink := range l.sinks {
		sink(change)
	}
}

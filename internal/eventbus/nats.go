package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "guildplay",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSPublisher publishes events on NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSPublisher connects to the NATS server at cfg.URL.
func NewNATSPublisher(cfg NATSConfig, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS event publisher initialized")
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// Publish implements Publisher. NATS buffers publishes while reconnecting,
// so a flush bounded by ctx is what surfaces an unreachable server.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

// Subscribe delivers raw messages on subject (wildcards allowed) until ctx ends.
func (p *NATSPublisher) Subscribe(ctx context.Context, subject string, fn func([]byte)) error {
	sub, err := p.conn.Subscribe(subject, func(m *nats.Msg) { fn(m.Data) })
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

// Backend implements Publisher.
func (p *NATSPublisher) Backend() string { return "nats" }

// Close implements Publisher.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

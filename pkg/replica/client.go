package replica

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultReconnect is how long a Client waits after a connection ends before dialing again.
const DefaultReconnect = 4 * time.Second

// Client keeps a companion replica connected to a server, dialing again after every
// disconnect until its context ends.
type Client struct {
	engine    *Engine
	url       string
	reconnect time.Duration
	logger    *slog.Logger
	dialer    *websocket.Dialer
}

func NewClient(engine *Engine, url string, reconnect time.Duration, logger *slog.Logger) *Client {
	if reconnect <= 0 {
		reconnect = DefaultReconnect
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		engine:    engine,
		url:       url,
		reconnect: reconnect,
		logger:    logger,
		dialer:    websocket.DefaultDialer,
	}
}

func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.connectAndSync(ctx); err != nil {
			c.logger.Warn("failed to sync", "url", c.url, "err", err)
		} else {
			c.logger.Info("finished sync", "url", c.url)
		}
		t := time.NewTimer(c.reconnect)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			c.logger.Info("stopping scheduled sync")
			return nil
		}
	}
}

func (c *Client) connectAndSync(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	c.logger.Info("connected", "url", c.url)
	if err := c.engine.HandleWebSocket(ctx, conn); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher forwards events to <prefix>.<signal> so other processes can
// refetch too.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	mu     sync.Mutex
	closed bool
}

func ConnectNATS(ctx context.Context, url, prefix string) (*NATSPublisher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(url,
		nats.Name("taskstream"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := NewNATSPublisher(nc, prefix)
	p.owned = true
	return p, nil
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: strings.Trim(strings.TrimSpace(prefix), ".")}
}

func (p *NATSPublisher) Subject(signal Signal) string {
	if p.prefix == "" {
		return string(signal)
	}
	return p.prefix + "." + string(signal)
}

// Publish is fire-and-forget. NATS publish does not take a context, so ctx
// is only checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || p.nc == nil {
		return errors.New("nats publisher closed")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.nc.Publish(p.Subject(event.Signal), data)
}

// Close drains the connection when the publisher opened it.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if !p.owned || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

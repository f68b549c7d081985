// ABOUTME: Widget-side bridge client: issues requests, correlates responses, caches results.
// ABOUTME: One pending entry per correlation id; entries die on response, error, timeout, or cancel.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trycortexai/ui-kit/internal/options"
)

// DefaultRequestTimeout bounds how long a bridge request waits for the host.
const DefaultRequestTimeout = 10 * time.Second

// ErrClientDestroyed is returned to callers whose requests were still
// pending when Destroy ran.
var ErrClientDestroyed = errors.New("bridge: client destroyed")

type result struct {
	msg Message
	err error
}

// Client is the widget side of the bridge. It requests configuration and
// credentials from the host, caching each answer after the first round trip.
type Client struct {
	transport Transport
	logger    *slog.Logger
	timeout   time.Duration

	mu            sync.Mutex
	pending       map[string]chan result
	cachedOptions *options.UIOptions
	cachedSecret  string
	destroyed     bool

	done     chan struct{}
	shutdown sync.Once
}

// NewClient creates a client on the given transport and starts its receive
// loop. Call Destroy when the widget is discarded.
func NewClient(transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		transport: transport,
		logger:    logger.With("component", "bridge-client"),
		timeout:   DefaultRequestTimeout,
		pending:   make(map[string]chan result),
		done:      make(chan struct{}),
	}
	go c.receive()
	return c
}

// GetOptions returns the host's UI options, asking at most once.
func (c *Client) GetOptions(ctx context.Context) (options.UIOptions, error) {
	c.mu.Lock()
	if c.cachedOptions != nil {
		opts := *c.cachedOptions
		c.mu.Unlock()
		return opts, nil
	}
	c.mu.Unlock()

	msg, err := c.roundTrip(ctx, TypeRequestOptions)
	if err != nil {
		return options.UIOptions{}, err
	}
	if msg.Type != TypeResponseOptions {
		return options.UIOptions{}, fmt.Errorf("bridge: unexpected response type %s", msg.Type)
	}

	var payload OptionsPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return options.UIOptions{}, fmt.Errorf("bridge: decoding options payload: %w", err)
	}

	c.mu.Lock()
	c.cachedOptions = &payload.UIOptions
	c.mu.Unlock()
	return payload.UIOptions, nil
}

// GetClientSecret returns the host's client secret, asking at most once.
func (c *Client) GetClientSecret(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.cachedSecret != "" {
		secret := c.cachedSecret
		c.mu.Unlock()
		return secret, nil
	}
	c.mu.Unlock()

	msg, err := c.roundTrip(ctx, TypeRequestClientSecret)
	if err != nil {
		return "", err
	}
	if msg.Type != TypeResponseClientSecret {
		return "", fmt.Errorf("bridge: unexpected response type %s", msg.Type)
	}

	var payload ClientSecretPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return "", fmt.Errorf("bridge: decoding client secret payload: %w", err)
	}

	c.mu.Lock()
	c.cachedSecret = payload.ClientSecret
	c.mu.Unlock()
	return payload.ClientSecret, nil
}

// roundTrip registers a pending request, posts it, and waits for the
// matching response, a timeout, or context cancellation. The pending entry
// is removed on every exit path.
func (c *Client) roundTrip(ctx context.Context, reqType MessageType) (Message, error) {
	id := uuid.NewString()
	ch := make(chan result, 1)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return Message{}, ErrClientDestroyed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.transport.Post(Message{ID: id, Type: reqType}); err != nil {
		c.evict(id)
		return Message{}, fmt.Errorf("bridge: posting %s: %w", reqType, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-timer.C:
		c.evict(id)
		return Message{}, fmt.Errorf("bridge: request timeout: %s", reqType)
	case <-ctx.Done():
		c.evict(id)
		return Message{}, ctx.Err()
	}
}

func (c *Client) evict(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// receive drains the transport, settling pending requests by correlation
// id. A response whose id has no pending entry (late delivery after
// eviction, duplicate) is logged and dropped, never an error.
func (c *Client) receive() {
	for {
		select {
		case <-c.done:
			return
		case v, ok := <-c.transport.Messages():
			if !ok {
				return
			}
			msg, ok := AsBridgeMessage(v)
			if !ok {
				continue
			}
			c.settle(msg)
		}
	}
}

func (c *Client) settle(msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("no pending request for message id", "id", msg.ID, "type", msg.Type)
		return
	}

	switch msg.Type {
	case TypeResponseOptions, TypeResponseClientSecret:
		ch <- result{msg: msg}
	case TypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			payload.Error = "malformed error payload"
		}
		c.logger.Error("error received from host", "id", msg.ID, "error", payload.Error)
		ch <- result{err: errors.New(payload.Error)}
	default:
		// A request type echoed back at us; nothing to settle with it.
		ch <- result{err: fmt.Errorf("bridge: unexpected message type %s", msg.Type)}
	}
}

// PendingRequests reports the number of in-flight requests. Zero at steady
// state.
func (c *Client) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Destroy detaches the client from its transport, fails all pending
// requests, and clears the caches. Idempotent.
func (c *Client) Destroy() {
	c.shutdown.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.destroyed = true
		for id, ch := range c.pending {
			delete(c.pending, id)
			ch <- result{err: ErrClientDestroyed}
		}
		c.cachedOptions = nil
		c.cachedSecret = ""
		c.mu.Unlock()
	})
}

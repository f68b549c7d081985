// ABOUTME: Host-side bridge: answers widget requests with configuration and credentials.
// ABOUTME: Handler errors become ERROR messages so the widget's request always settles.

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/trycortexai/ui-kit/internal/options"
)

// ErrNotInitialized is the handler failure reported to the widget when a
// request arrives before Initialize has supplied the answers.
var ErrNotInitialized = errors.New("bridge: host not initialized")

// HostOptions carries the application-supplied callbacks the host uses to
// answer widget requests.
type HostOptions struct {
	// GetClientSecret fetches a client secret from the integrating
	// application, typically by calling its own backend.
	GetClientSecret func(ctx context.Context) (string, error)
}

// Host is the host-application side of the bridge. The embeddable element
// holds one and delegates inbound widget messages to it.
type Host struct {
	transport Transport
	logger    *slog.Logger

	mu          sync.Mutex
	uiOptions   *options.UIOptions
	hostOptions *HostOptions

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// NewHost creates a host bound to the transport of one widget instance and
// starts its receive loop. Requests arriving before Initialize are answered
// with a "not initialized" error.
func NewHost(transport Transport, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		transport: transport,
		logger:    logger.With("component", "bridge-host"),
		ctx:       ctx,
		cancel:    cancel,
	}
	go h.receive()
	return h
}

// Initialize supplies the answers this host serves. Must run before the
// widget's first request for that request to succeed.
func (h *Host) Initialize(uiOptions options.UIOptions, hostOptions HostOptions) {
	h.mu.Lock()
	h.uiOptions = &uiOptions
	h.hostOptions = &hostOptions
	h.mu.Unlock()
}

func (h *Host) receive() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case v, ok := <-h.transport.Messages():
			if !ok {
				return
			}
			msg, ok := AsBridgeMessage(v)
			if !ok {
				continue
			}
			h.handle(msg)
		}
	}
}

// handle is a thin router: per-type handlers hold the domain logic, and any
// handler error is translated into an ERROR message carrying the request id.
func (h *Host) handle(msg Message) {
	var err error
	switch msg.Type {
	case TypeRequestOptions:
		err = h.handleOptionsRequest(msg)
	case TypeRequestClientSecret:
		err = h.handleClientSecretRequest(msg)
	default:
		// Responses and errors are widget-bound traffic, not ours to answer.
		return
	}

	if err != nil {
		h.logger.Error("request handling failed", "id", msg.ID, "type", msg.Type, "error", err)
		h.sendError(msg.ID, err)
	}
}

func (h *Host) handleOptionsRequest(msg Message) error {
	h.mu.Lock()
	uiOptions := h.uiOptions
	h.mu.Unlock()

	if uiOptions == nil {
		return ErrNotInitialized
	}

	resp, err := newResponse(msg.ID, TypeResponseOptions, OptionsPayload{UIOptions: *uiOptions})
	if err != nil {
		return err
	}
	return h.transport.Post(resp)
}

func (h *Host) handleClientSecretRequest(msg Message) error {
	h.mu.Lock()
	hostOptions := h.hostOptions
	h.mu.Unlock()

	if hostOptions == nil || hostOptions.GetClientSecret == nil {
		return ErrNotInitialized
	}

	secret, err := hostOptions.GetClientSecret(h.ctx)
	if err != nil {
		return err
	}

	resp, err := newResponse(msg.ID, TypeResponseClientSecret, ClientSecretPayload{ClientSecret: secret})
	if err != nil {
		return err
	}
	return h.transport.Post(resp)
}

func (h *Host) sendError(id string, cause error) {
	msg, err := newResponse(id, TypeError, ErrorPayload{Error: cause.Error()})
	if err != nil {
		return
	}
	if err := h.transport.Post(msg); err != nil {
		h.logger.Error("posting error message failed", "id", id, "error", err)
	}
}

// Destroy detaches the host from its transport and clears the configured
// answers. Idempotent.
func (h *Host) Destroy() {
	h.shutdown.Do(func() {
		h.cancel()

		h.mu.Lock()
		h.uiOptions = nil
		h.hostOptions = nil
		h.mu.Unlock()
	})
}

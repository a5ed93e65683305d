package messaging

import (
	"context"
	"log/slog"
)

// MessageHandler produces a reply for an inbound message. The returned reply
// may be empty, in which case nothing is sent.
type MessageHandler interface {
	HandleMessage(ctx context.Context, userID, text string) (string, error)
}

// Router consumes inbound responses from a messaging service and routes them
// to the coach, sending the reply back over the same service.
type Router struct {
	service Service
	handler MessageHandler
	// apology is sent when the handler fails so the user is never left hanging.
	apology string
}

// NewRouter creates a Router wiring the service's responses into the handler.
func NewRouter(service Service, handler MessageHandler, apology string) *Router {
	return &Router{service: service, handler: handler, apology: apology}
}

// Start begins consuming inbound messages until the context is cancelled or
// the responses channel closes.
func (r *Router) Start(ctx context.Context) {
	slog.Info("Router starting message processing")

	go func() {
		defer slog.Info("Router stopped message processing")

		for {
			select {
			case response, ok := <-r.service.Responses():
				if !ok {
					slog.Debug("Router responses channel closed")
					return
				}
				r.route(ctx, response.From, response.Body)
			case <-ctx.Done():
				slog.Debug("Router stopping due to context cancellation")
				return
			}
		}
	}()
}

func (r *Router) route(ctx context.Context, from, body string) {
	canonicalFrom, err := r.service.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Error("Router invalid sender", "error", err, "from", from)
		return
	}

	slog.Debug("Router handling inbound message", "from", canonicalFrom, "body_length", len(body))

	reply, err := r.handler.HandleMessage(ctx, canonicalFrom, body)
	if err != nil {
		slog.Error("Router handler failed", "error", err, "from", canonicalFrom)
		reply = r.apology
	}
	if reply == "" {
		return
	}

	for _, chunk := range ChunkMessage(reply) {
		if err := r.service.SendMessage(ctx, canonicalFrom, chunk); err != nil {
			slog.Error("Router failed to send reply", "error", err, "to", canonicalFrom)
			return
		}
	}
}

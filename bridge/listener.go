package bridge

import (
	"context"
	"encoding/json"

	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/logging/logger"
)

// TokenVerifier is the authority-side verification the listener answers
// with. Satisfied by service.Service.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*structs.Identity, error)
}

// Listener is the authority side of the bridge. It consumes validation
// requests from the shared channel and publishes verdicts on each request's
// private reply channel.
type Listener struct {
	broker   Broker
	verifier TokenVerifier
	logger   *logger.Logger
}

func NewListener(broker Broker, verifier TokenVerifier, log *logger.Logger) *Listener {
	return &Listener{broker: broker, verifier: verifier, logger: log}
}

// Run blocks until ctx is canceled. Malformed requests are logged and
// skipped so one bad publisher cannot wedge the loop.
func (l *Listener) Run(ctx context.Context) error {
	sub, err := l.broker.Subscribe(ctx, RequestChannel)
	if err != nil {
		return err
	}
	defer sub.Close()

	l.logger.Infof(ctx, "bridge listener on %s", RequestChannel)

	for {
		select {
		case raw, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			l.handle(ctx, raw)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Listener) handle(ctx context.Context, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		l.logger.Warnf(ctx, "bridge request malformed: %v", err)
		return
	}
	if req.ResponseChannel == "" {
		l.logger.Warnf(ctx, "bridge request without response channel")
		return
	}

	reply := l.verdict(ctx, req.Token)

	payload, err := json.Marshal(reply)
	if err != nil {
		l.logger.Errorf(ctx, "bridge reply marshal failed: %v", err)
		return
	}
	if err := l.broker.Publish(ctx, req.ResponseChannel, payload); err != nil {
		l.logger.Warnf(ctx, "bridge reply publish failed: %v", err)
	}
}

// verdict never returns an error: any validation failure is an invalid
// verdict, keeping the wire contract a plain yes or no.
func (l *Listener) verdict(ctx context.Context, token string) Reply {
	ident, err := l.verifier.Verify(ctx, token)
	if err != nil {
		return Reply{Valid: false}
	}
	return Reply{Valid: true, User: &structs.Identity{ID: ident.ID, Email: ident.Email, Role: ident.Role}}
}

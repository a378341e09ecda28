package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/logging/logger"
)

// DefaultTimeout bounds how long a verifier waits for the authority before
// treating the token as invalid.
const DefaultTimeout = 3 * time.Second

// Verifier asks the authority for a token verdict over the broker. Each call
// subscribes a fresh private reply channel keyed by a correlation id, then
// publishes the request. No verdict within the timeout means invalid.
type Verifier struct {
	broker  Broker
	timeout time.Duration
	logger  *logger.Logger
}

func NewVerifier(broker Broker, timeout time.Duration, log *logger.Logger) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Verifier{broker: broker, timeout: timeout, logger: log}
}

// Verify returns (identity, true) for a valid token and (nil, false)
// otherwise. Transport failures and timeouts both come back as invalid, so a
// degraded broker never lets a token through.
func (v *Verifier) Verify(ctx context.Context, token string) (*structs.Identity, bool) {
	replyChannel := replyChannelPrefix + uuid.New().String()

	sub, err := v.broker.Subscribe(ctx, replyChannel)
	if err != nil {
		v.logger.Warnf(ctx, "bridge subscribe failed: %v", err)
		return nil, false
	}
	defer sub.Close()

	payload, err := json.Marshal(Request{Token: token, ResponseChannel: replyChannel})
	if err != nil {
		return nil, false
	}
	if err := v.broker.Publish(ctx, RequestChannel, payload); err != nil {
		v.logger.Warnf(ctx, "bridge publish failed: %v", err)
		return nil, false
	}

	timer := time.NewTimer(v.timeout)
	defer timer.Stop()

	select {
	case raw, ok := <-sub.Messages():
		if !ok {
			return nil, false
		}
		var reply Reply
		if err := json.Unmarshal(raw, &reply); err != nil {
			v.logger.Warnf(ctx, "bridge reply malformed: %v", err)
			return nil, false
		}
		if !reply.Valid || reply.User == nil {
			return nil, false
		}
		return reply.User, true
	case <-timer.C:
		v.logger.Warnf(ctx, "bridge verdict timed out after %s", v.timeout)
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

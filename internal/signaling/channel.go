package signaling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/repository"
	"github.com/reelchat/call-service/pkg/logger"
	"github.com/reelchat/call-service/pkg/redis"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Outbound publish rate. ICE gathering can burst dozens of candidates in a
// few hundred milliseconds, so the bucket is generous but bounded.
const (
	publishRate  = 50
	publishBurst = 100
)

// CallHandlers receive decoded events from a per-call subscription.
type CallHandlers struct {
	OnSignal  func(*domain.CallSignal)
	OnMessage func(*domain.CallMessage)
	OnSession func(*domain.CallSession)
}

// Bus persists and delivers call events. One Bus serves every call of the
// process; subscriptions are per call.
type Bus struct {
	redis   redis.ServiceInterface
	repos   repository.Manager
	limiter *rate.Limiter
}

// NewBus creates a bus over the given redis service and repository manager.
func NewBus(redisService redis.ServiceInterface, repos repository.Manager) *Bus {
	return &Bus{
		redis:   redisService,
		repos:   repos,
		limiter: rate.NewLimiter(rate.Limit(publishRate), publishBurst),
	}
}

// SendSignal persists a control signal and pushes it to the per-call channel.
// The row is written first; a push failure surfaces as a DeliveryError with
// the row already durable.
func (b *Bus) SendSignal(ctx context.Context, callID, senderID string, signalType domain.SignalType, payload any) (*domain.CallSignal, error) {
	data, err := domain.MarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	signal := &domain.CallSignal{
		ID:         uuid.New().String(),
		CallID:     callID,
		SenderID:   senderID,
		SignalType: signalType,
		SignalData: data,
		CreatedAt:  time.Now(),
	}
	if err := b.repos.Signals().Create(ctx, signal); err != nil {
		return nil, err
	}
	if err := b.publish(ctx, eventsChannel(callID), envelope{Kind: kindSignal, Signal: signal}); err != nil {
		return signal, err
	}
	return signal, nil
}

// SendMessage persists an in-call chat message and pushes it to the per-call
// channel. The sender receives their own message back, like everyone else.
func (b *Bus) SendMessage(ctx context.Context, callID, senderID, content string) (*domain.CallMessage, error) {
	message := &domain.CallMessage{
		ID:        uuid.New().String(),
		CallID:    callID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := b.repos.Messages().Create(ctx, message); err != nil {
		return nil, err
	}
	if err := b.publish(ctx, eventsChannel(callID), envelope{Kind: kindMessage, Message: message}); err != nil {
		return message, err
	}
	return message, nil
}

// PublishSession pushes an already-persisted session snapshot to the per-call
// channel so both sides converge on the new status.
func (b *Bus) PublishSession(ctx context.Context, session *domain.CallSession) error {
	return b.publish(ctx, eventsChannel(session.ID), envelope{Kind: kindSession, Session: session})
}

// NotifyIncoming rings the callee on their personal incoming channel.
func (b *Bus) NotifyIncoming(ctx context.Context, session *domain.CallSession) error {
	return b.publish(ctx, incomingChannel(session.CalleeID), envelope{Kind: kindSession, Session: session})
}

func (b *Bus) publish(ctx context.Context, channel string, env envelope) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return &DeliveryError{Channel: channel, Err: err}
	}
	if err := b.redis.Publish(ctx, channel, env); err != nil {
		return &DeliveryError{Channel: channel, Err: err}
	}
	return nil
}

// SubscribeCall attaches handlers to a call's event channel. Control signals
// authored by selfID are dropped before dispatch; chat messages are not,
// so the channel stays the single ordering source for the chat view.
// Malformed payloads are logged and dropped. The returned cancel function
// detaches the subscription.
func (b *Bus) SubscribeCall(ctx context.Context, callID, selfID string, handlers CallHandlers) (func(), error) {
	channel := eventsChannel(callID)
	cancel, err := b.redis.Subscribe(ctx, channel, func(payload string) {
		env, err := decodeEnvelope(payload)
		if err != nil {
			logger.Base().Warn("dropping malformed call event",
				zap.String("call_id", callID), zap.Error(err))
			return
		}
		switch env.Kind {
		case kindSignal:
			if env.Signal.SenderID == selfID {
				return
			}
			if handlers.OnSignal != nil {
				handlers.OnSignal(env.Signal)
			}
		case kindMessage:
			if handlers.OnMessage != nil {
				handlers.OnMessage(env.Message)
			}
		case kindSession:
			if handlers.OnSession != nil {
				handlers.OnSession(env.Session)
			}
		}
	})
	if err != nil {
		return nil, &DeliveryError{Channel: channel, Err: err}
	}
	return cancel, nil
}

// SubscribeIncoming attaches a listener to a user's personal incoming-call
// channel. The handler receives the ringing session; resolving the caller's
// profile is the subscriber's concern.
func (b *Bus) SubscribeIncoming(ctx context.Context, userID string, handler func(*domain.CallSession)) (func(), error) {
	channel := incomingChannel(userID)
	cancel, err := b.redis.Subscribe(ctx, channel, func(payload string) {
		env, err := decodeEnvelope(payload)
		if err != nil {
			logger.Base().Warn("dropping malformed incoming-call event",
				zap.String("user_id", userID), zap.Error(err))
			return
		}
		if env.Kind != kindSession {
			return
		}
		handler(env.Session)
	})
	if err != nil {
		return nil, &DeliveryError{Channel: channel, Err: err}
	}
	return cancel, nil
}

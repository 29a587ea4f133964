package transport

import (
	"club-link/applog"
	"club-link/protocol"
	"context"
	"errors"
	"go.uber.org/zap"
	"time"
)

const sendTimeout = 10 * time.Second

// Inbound is a decoded message together with the relay-attributed sender.
type Inbound struct {
	Sender  protocol.MemberId
	Message protocol.Message
}

// Sender is the outbound half of an Adapter.
type Sender interface {
	Send(ctx context.Context, target protocol.MemberId, msg protocol.Message)
}

type Adapter struct {
	channel Channel
}

func NewAdapter(channel Channel) *Adapter {
	return &Adapter{channel: channel}
}

// Send delivers msg to target on a best-effort basis. A missing chat room connection is
// expected and only logged at debug level; no failure reaches the caller.
func (a *Adapter) Send(ctx context.Context, target protocol.MemberId, msg protocol.Message) {
	logger := applog.FromContext(ctx).With(
		zap.String("kind", msg.GetKind()),
		zap.Int64("target", target),
	)

	content, err := protocol.EncodeEnvelope(msg)
	if err != nil {
		logger.Error("Could not encode message", zap.Error(err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err = a.channel.Send(sendCtx, Frame{
		Target:  target,
		Tag:     protocol.EnvelopeTag,
		Content: content,
	})
	switch {
	case err == nil:
		logger.Debug("Message sent")
	case errors.Is(err, ErrNotConnected):
		logger.Debug("Message skipped, not connected to a chat room")
	default:
		logger.Warn("Message send failed", zap.Error(err))
	}
}

// Subscribe installs handler for decoded inbound messages. Frames with a foreign tag and
// messages of unknown kind are dropped.
func (a *Adapter) Subscribe(handler func(Inbound)) error {
	return a.channel.Subscribe(func(frame Frame) {
		if frame.Tag != protocol.EnvelopeTag {
			return
		}

		msg, err := protocol.DecodeEnvelope(frame.Content)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownKind) {
				applog.Debug("Ignoring message of unknown kind",
					zap.Int64("sender", frame.Sender),
					zap.Error(err),
				)
				return
			}
			applog.Warn("Dropping malformed message",
				zap.Int64("sender", frame.Sender),
				zap.Error(err),
			)
			return
		}

		handler(Inbound{Sender: frame.Sender, Message: msg})
	})
}

// Package negotiation runs the invite, accept, decline and force-start exchange that
// launches a mini-game activity on both peers.
package negotiation

import (
	"club-link/applog"
	"club-link/catalog"
	"club-link/failure"
	"club-link/host"
	"club-link/idgen"
	"club-link/livestate"
	"club-link/protocol"
	"club-link/registry"
	"club-link/transport"
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
)

var ErrOpponentRequired = errors.New("activity requires an opponent")

type Outcome int

const (
	// Launched means the activity started locally without contacting anyone.
	Launched Outcome = iota + 1
	// Forced means the activity started locally and the opponent was told to follow.
	Forced
	// InviteSent means nothing starts until the opponent accepts.
	InviteSent
)

func (o Outcome) String() string {
	switch o {
	case Launched:
		return "launched"
	case Forced:
		return "forced"
	case InviteSent:
		return "inviteSent"
	default:
		return "none"
	}
}

type Engine struct {
	ctx      context.Context
	catalog  *catalog.Catalog
	registry *registry.Registry
	host     host.Host
	ids      *idgen.Generator
	sender   transport.Sender
	matches  *livestate.Relay
	post     func(func())
}

// New creates an engine. post must run the given function on the goroutine that owns
// the registry; prompt answers are routed through it.
func New(
	ctx context.Context,
	cat *catalog.Catalog,
	reg *registry.Registry,
	h host.Host,
	ids *idgen.Generator,
	sender transport.Sender,
	matches *livestate.Relay,
	post func(func()),
) *Engine {
	return &Engine{
		ctx:      ctx,
		catalog:  cat,
		registry: reg,
		host:     h,
		ids:      ids,
		sender:   sender,
		matches:  matches,
		post:     post,
	}
}

// LaunchSolo starts an activity for the local player alone. Activities needing an
// opponent are refused with a notice.
func (e *Engine) LaunchSolo(activityId string) error {
	def, ok := e.catalog.Activity(activityId)
	if !ok {
		applog.Warn("Unknown activity requested", zap.String("activityId", activityId))
		return failure.Precondition("launch "+activityId, catalog.ErrUnknownActivity)
	}
	if def.RequiresOpponent {
		e.host.Notices.Notify(host.NoticeOpponentRequired)
		return failure.Precondition("launch "+activityId, ErrOpponentRequired)
	}
	return e.launch(def)
}

// RequestActivity starts activityId with opponentId. Depending on the activity and the
// relationship to the opponent it launches right away, force-starts both sides or sends
// an invitation.
func (e *Engine) RequestActivity(activityId string, opponentId protocol.MemberId) (Outcome, error) {
	op := "request " + activityId
	def, ok := e.catalog.Activity(activityId)
	if !ok {
		applog.Warn("Unknown activity requested", zap.String("activityId", activityId))
		return 0, failure.Precondition(op, catalog.ErrUnknownActivity)
	}

	local, localKnown := e.host.Directory.Local()
	if localKnown && local.MemberId() == opponentId {
		if err := e.LaunchSolo(activityId); err != nil {
			return 0, err
		}
		return Launched, nil
	}

	opponent, ok := e.host.Directory.Find(opponentId)
	if !ok || !opponent.IsOnline() {
		applog.Warn("No valid opponent selected", zap.Int64("opponent", opponentId))
		return 0, failure.Precondition(op, failure.ErrNoOpponent)
	}

	if !def.RequiresOpponent {
		if err := e.launch(def); err != nil {
			return 0, err
		}
		return Launched, nil
	}

	ctx := applog.WithPeer(e.ctx, opponentId)
	initiator := host.LocalMemberId(e.host.Directory)
	matchId := e.ids.MatchId()

	if opponent.IsOwnedByLocal() {
		ctx = applog.AddContextFields(ctx, zap.String("matchId", matchId))
		if err := e.matches.StartMatch(def.Id, matchId, opponent); err != nil {
			applog.FromContext(ctx).Warn("Could not prepare match", zap.Error(err))
			return 0, failure.Precondition(op, err)
		}
		e.sender.Send(ctx, opponentId, protocol.NewForceStartMessage(def.Id, initiator, matchId))
		if err := e.launch(def); err != nil {
			return 0, err
		}
		return Forced, nil
	}

	inviteId := e.ids.InviteId()
	err := e.registry.AddInvite(registry.PendingInvite{
		InviteId:  inviteId,
		SubjectId: def.Id,
		Opponent:  opponentId,
		MatchId:   matchId,
	})
	if err != nil {
		return 0, failure.Precondition(op, err)
	}

	ctx = applog.AddContextFields(ctx, zap.String("inviteId", inviteId))
	e.sender.Send(ctx, opponentId, protocol.NewInviteMessage(
		inviteId,
		def.Id,
		initiator,
		opponentId,
		host.DisplayName(local),
		matchId,
	))
	applog.FromContext(ctx).Info("Invitation sent", zap.String("activityId", def.Id))
	e.host.Notices.Notify(host.NoticeInviteSent(host.DisplayName(opponent)))
	return InviteSent, nil
}

// HandleInvite answers an inbound invitation exactly once: immediately when it cannot
// be honored, otherwise after the local player decides.
func (e *Engine) HandleInvite(sender protocol.MemberId, msg *protocol.InviteMessage) {
	ctx := applog.AddContextFields(applog.WithPeer(e.ctx, sender), zap.String("inviteId", msg.Id))
	logger := applog.FromContext(ctx)

	if local := host.LocalMemberId(e.host.Directory); local <= 0 || msg.Target != local {
		logger.Debug("Ignoring invite addressed to someone else", zap.Int64("target", msg.Target))
		return
	}
	if !e.registry.FirstInboundInvite(sender, msg.Id) {
		logger.Debug("Ignoring repeated invite")
		return
	}

	def, known := e.catalog.Activity(msg.GameId)
	opponent, present := e.host.Directory.Find(sender)
	if !known || !present {
		logger.Info("Declining invite automatically",
			zap.String("activityId", msg.GameId),
			zap.Bool("knownActivity", known),
			zap.Bool("opponentPresent", present),
		)
		e.sender.Send(ctx, sender, protocol.NewResponseMessage(msg.Id, msg.GameId, false, ""))
		return
	}

	initiatorName := msg.InitiatorName
	if initiatorName == "" {
		initiatorName = host.DisplayName(opponent)
	}

	answered := false
	answer := func(accepted bool) {
		e.post(func() {
			if answered {
				return
			}
			answered = true

			if !accepted {
				logger.Info("Invite declined")
				e.sender.Send(ctx, sender, protocol.NewResponseMessage(msg.Id, msg.GameId, false, msg.MatchId))
				return
			}

			matchId := msg.MatchId
			if def.RequiresOpponent {
				if matchId == "" {
					matchId = e.ids.MatchId()
				}
				if err := e.matches.StartMatch(def.Id, matchId, opponent); err != nil {
					logger.Warn("Could not prepare match", zap.Error(err))
				}
			}
			if err := e.launch(def); err != nil {
				logger.Warn("Accepted invite but launch failed", zap.Error(err))
			}
			logger.Info("Invite accepted", zap.String("matchId", matchId))
			e.sender.Send(ctx, sender, protocol.NewResponseMessage(msg.Id, msg.GameId, true, matchId))
		})
	}

	e.host.Decisions.Prompt(
		host.PromptActivityInvite(initiatorName, def.DisplayName()),
		func() { answer(true) },
		func() { answer(false) },
	)
}

// HandleResponse resolves a pending invite. The invite is consumed on first match, so a
// replayed response has no effect.
func (e *Engine) HandleResponse(sender protocol.MemberId, msg *protocol.ResponseMessage) {
	ctx := applog.AddContextFields(applog.WithPeer(e.ctx, sender), zap.String("inviteId", msg.Id))
	logger := applog.FromContext(ctx)

	invite, ok := e.registry.TakeInvite(msg.Id, sender)
	if !ok {
		logger.Debug("Ignoring response without pending invite from sender")
		return
	}

	if !msg.Accepted {
		logger.Info("Invite was declined")
		e.host.Notices.Notify(host.NoticeInviteDeclined)
		return
	}

	def, ok := e.catalog.Activity(invite.SubjectId)
	if !ok {
		return
	}

	if def.RequiresOpponent {
		opponent, present := e.host.Directory.Find(invite.Opponent)
		if !present {
			logger.Warn("Opponent left before the match could start")
			e.host.Notices.Notify(host.NoticeOpponentLeft)
			return
		}
		matchId := msg.MatchId
		if matchId == "" {
			matchId = invite.MatchId
		}
		if err := e.matches.StartMatch(def.Id, matchId, opponent); err != nil {
			logger.Warn("Could not prepare match", zap.Error(err))
		}
	}

	if err := e.launch(def); err != nil {
		logger.Warn("Invite accepted but launch failed", zap.Error(err))
	}
}

// HandleForceStart follows an opponent who owns the local player into an activity.
func (e *Engine) HandleForceStart(sender protocol.MemberId, msg *protocol.ForceStartMessage) {
	logger := applog.FromContext(applog.WithPeer(e.ctx, sender))

	def, ok := e.catalog.Activity(msg.GameId)
	if !ok || !def.RequiresOpponent {
		logger.Debug("Ignoring force start for unsupported activity", zap.String("activityId", msg.GameId))
		return
	}
	if msg.Initiator != sender {
		logger.Warn("Ignoring force start with mismatching initiator", zap.Int64("initiator", msg.Initiator))
		return
	}
	opponent, ok := e.host.Directory.Find(sender)
	if !ok {
		logger.Debug("Ignoring force start from unknown member")
		return
	}

	matchId := msg.MatchId
	if matchId == "" {
		matchId = e.ids.MatchId()
	}
	if err := e.matches.StartMatch(def.Id, matchId, opponent); err != nil {
		logger.Warn("Could not prepare match", zap.Error(err))
	}
	if err := e.launch(def); err != nil {
		logger.Warn("Forced launch failed", zap.Error(err))
	}
}

// HandleReturn brings the player back to the chat view when a launched activity ends.
func (e *Engine) HandleReturn() {
	if e.host.Activity.InChatView() {
		return
	}
	if err := e.host.Activity.ShowChatView(); err != nil {
		applog.Error("Could not return to chat view", zap.Error(err))
	}
}

// CanShowActivities reports whether the activity menu applies to target.
func (e *Engine) CanShowActivities(targetId protocol.MemberId) bool {
	if !e.host.Directory.InChatRoom() {
		return false
	}
	target, ok := e.host.Directory.Find(targetId)
	if !ok {
		return false
	}
	if target.IsLocal() {
		return true
	}
	return target.IsOnline() && target.InReach()
}

// launch starts def locally. Launching anything without an opponent ends the active match.
func (e *Engine) launch(def catalog.ActivityDefinition) error {
	if !def.RequiresOpponent {
		e.registry.ClearMatch()
	}

	if err := e.host.Activity.Launch(def.Id, def.Difficulty, host.ReturnHandlerName); err != nil {
		applog.Error("Failed to start activity", zap.String("activityId", def.Id), zap.Error(err))
		return failure.Precondition("launch "+def.Id, fmt.Errorf("host launch: %w", err))
	}
	applog.Info("Activity launched", zap.String("activityId", def.Id))
	return nil
}

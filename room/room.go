// Package room negotiates shared room travel and keeps the single simulated shared room
// open on both peers.
package room

import (
	"club-link/applog"
	"club-link/catalog"
	"club-link/failure"
	"club-link/host"
	"club-link/idgen"
	"club-link/protocol"
	"club-link/registry"
	"club-link/transport"
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
)

var ErrCannotTravel = errors.New("local player cannot travel")

type Outcome int

const (
	// Entered means the local player entered the room without contacting anyone.
	Entered Outcome = iota + 1
	// Forced means the local player entered and the opponent was told to follow.
	Forced
	// InviteSent means nobody moves until the opponent accepts.
	InviteSent
)

func (o Outcome) String() string {
	switch o {
	case Entered:
		return "entered"
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
	post     func(func())
}

// New creates an engine. post must run the given function on the goroutine that owns
// the registry; prompt answers, roster completions and view dismissals go through it.
func New(
	ctx context.Context,
	cat *catalog.Catalog,
	reg *registry.Registry,
	h host.Host,
	ids *idgen.Generator,
	sender transport.Sender,
	post func(func()),
) *Engine {
	return &Engine{
		ctx:      ctx,
		catalog:  cat,
		registry: reg,
		host:     h,
		ids:      ids,
		sender:   sender,
		post:     post,
	}
}

// VisitRoom takes the local player to roomId alone.
func (e *Engine) VisitRoom(roomId string) error {
	op := "visit " + roomId
	def, ok := e.catalog.Room(roomId)
	if !ok {
		applog.Warn("Unknown room requested", zap.String("roomId", roomId))
		return failure.Precondition(op, catalog.ErrUnknownRoom)
	}
	if err := e.checkTravel(op, def); err != nil {
		return err
	}

	local := host.LocalMemberId(e.host.Directory)
	return e.enter(def, local, local)
}

// InviteToRoom brings opponentId along to roomId: directly when the local player owns the
// opponent, otherwise through an invitation.
func (e *Engine) InviteToRoom(roomId string, opponentId protocol.MemberId) (Outcome, error) {
	op := "invite to " + roomId
	def, ok := e.catalog.Room(roomId)
	if !ok {
		applog.Warn("Unknown room requested", zap.String("roomId", roomId))
		return 0, failure.Precondition(op, catalog.ErrUnknownRoom)
	}
	if err := e.checkTravel(op, def); err != nil {
		return 0, err
	}

	opponent, ok := e.host.Directory.Find(opponentId)
	if !ok || !opponent.IsOnline() || opponent.IsLocal() {
		applog.Warn("No valid opponent selected for room invite", zap.Int64("opponent", opponentId))
		return 0, failure.Precondition(op, failure.ErrNoOpponent)
	}

	ctx := applog.WithPeer(e.ctx, opponentId)
	local, _ := e.host.Directory.Local()
	initiator := host.LocalMemberId(e.host.Directory)

	if opponent.IsOwnedByLocal() {
		e.sender.Send(ctx, opponentId, protocol.NewRoomForceMessage(def.Id, initiator))
		if err := e.enter(def, initiator, opponentId); err != nil {
			return 0, err
		}
		return Forced, nil
	}

	inviteId := e.ids.InviteId()
	err := e.registry.AddRoomInvite(registry.PendingInvite{
		InviteId:  inviteId,
		SubjectId: def.Id,
		Opponent:  opponentId,
	})
	if err != nil {
		return 0, failure.Precondition(op, err)
	}

	ctx = applog.AddContextFields(ctx, zap.String("inviteId", inviteId))
	e.sender.Send(ctx, opponentId, protocol.NewRoomInviteMessage(
		inviteId,
		def.Id,
		initiator,
		opponentId,
		host.DisplayName(local),
	))
	applog.FromContext(ctx).Info("Room invitation sent", zap.String("roomId", def.Id))
	e.host.Notices.Notify(host.NoticeInviteSent(host.DisplayName(opponent)))
	return InviteSent, nil
}

// CloseRoom leaves the open simulated room and tells the other side. It reports whether
// a room was open.
func (e *Engine) CloseRoom() bool {
	if _, ok := e.registry.Room(); !ok {
		return false
	}
	e.closeSimulated(true)
	return true
}

// Current returns a copy of the open simulated room.
func (e *Engine) Current() (registry.RoomSession, bool) {
	session, ok := e.registry.Room()
	if !ok {
		return registry.RoomSession{}, false
	}
	return *session, true
}

// CanShowRooms reports whether the room menu applies to target.
func (e *Engine) CanShowRooms(targetId protocol.MemberId) bool {
	if !e.host.Directory.InChatRoom() || !e.canTravel() {
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

// HandleRoomInvite answers an inbound room invitation exactly once.
func (e *Engine) HandleRoomInvite(sender protocol.MemberId, msg *protocol.RoomInviteMessage) {
	ctx := applog.AddContextFields(applog.WithPeer(e.ctx, sender),
		zap.String("inviteId", msg.Id),
		zap.String("roomId", msg.RoomId),
	)
	logger := applog.FromContext(ctx)

	local, localKnown := e.host.Directory.Local()
	if !localKnown || local.MemberId() != msg.Target {
		logger.Debug("Ignoring room invite addressed to someone else", zap.Int64("target", msg.Target))
		return
	}
	if !e.registry.FirstInboundRoomInvite(sender, msg.Id) {
		logger.Debug("Ignoring repeated room invite")
		return
	}

	def, known := e.catalog.Room(msg.RoomId)
	initiator, present := e.host.Directory.Find(sender)
	if !known || !present || !def.Meets(local) {
		logger.Info("Declining room invite automatically",
			zap.Bool("knownRoom", known),
			zap.Bool("opponentPresent", present),
		)
		e.sender.Send(ctx, sender, protocol.NewRoomResponseMessage(msg.Id, msg.RoomId, false))
		return
	}

	initiatorName := msg.InitiatorName
	if initiatorName == "" {
		initiatorName = host.DisplayName(initiator)
	}

	answered := false
	answer := func(accepted bool) {
		e.post(func() {
			if answered {
				return
			}
			answered = true

			if accepted {
				if err := e.enter(def, sender, local.MemberId()); err != nil {
					logger.Warn("Accepted room invite but entry failed", zap.Error(err))
				}
			}
			logger.Info("Room invite answered", zap.Bool("accepted", accepted))
			e.sender.Send(ctx, sender, protocol.NewRoomResponseMessage(msg.Id, msg.RoomId, accepted))
		})
	}

	e.host.Decisions.Prompt(
		host.PromptRoomInvite(initiatorName, def.Name),
		func() { answer(true) },
		func() { answer(false) },
	)
}

// HandleRoomResponse resolves a pending room invite. The invite is consumed on first
// match, so a replayed response has no effect.
func (e *Engine) HandleRoomResponse(sender protocol.MemberId, msg *protocol.RoomResponseMessage) {
	ctx := applog.AddContextFields(applog.WithPeer(e.ctx, sender), zap.String("inviteId", msg.Id))
	logger := applog.FromContext(ctx)

	invite, ok := e.registry.TakeRoomInvite(msg.Id, sender)
	if !ok {
		logger.Debug("Ignoring room response without pending invite from sender")
		return
	}

	if !msg.Accepted {
		logger.Info("Room invite was declined")
		e.host.Notices.Notify(host.NoticeInviteDeclined)
		return
	}

	def, ok := e.catalog.Room(invite.SubjectId)
	if !ok {
		return
	}
	local, localKnown := e.host.Directory.Local()
	if !localKnown || !def.Meets(local) {
		logger.Info("Room invite accepted but local player can no longer travel")
		return
	}
	if err := e.enter(def, local.MemberId(), invite.Opponent); err != nil {
		logger.Warn("Room invite accepted but entry failed", zap.Error(err))
	}
}

// HandleRoomForce follows an owner into a room.
func (e *Engine) HandleRoomForce(sender protocol.MemberId, msg *protocol.RoomForceMessage) {
	logger := applog.FromContext(applog.WithPeer(e.ctx, sender)).With(zap.String("roomId", msg.RoomId))

	def, ok := e.catalog.Room(msg.RoomId)
	if !ok {
		logger.Debug("Ignoring room force for unknown room")
		return
	}
	if msg.Initiator != sender {
		logger.Warn("Ignoring room force with mismatching initiator", zap.Int64("initiator", msg.Initiator))
		return
	}
	local, localKnown := e.host.Directory.Local()
	if !localKnown || !def.Meets(local) {
		logger.Info("Ignoring room force, local player cannot travel")
		return
	}
	if _, ok := e.host.Directory.Find(sender); !ok {
		logger.Debug("Ignoring room force from unknown member")
		return
	}
	if err := e.enter(def, sender, local.MemberId()); err != nil {
		logger.Warn("Forced room entry failed", zap.Error(err))
	}
}

// HandleRoomNpcSync shows the host's roster on the guest side.
func (e *Engine) HandleRoomNpcSync(sender protocol.MemberId, msg *protocol.RoomNpcSyncMessage) {
	session, ok := e.registry.Room()
	local := host.LocalMemberId(e.host.Directory)
	if !ok || session.RoomId != msg.RoomId || session.Host == local || session.Host != sender {
		applog.Debug("Ignoring roster for another room",
			zap.String("roomId", msg.RoomId),
			zap.Int64("sender", sender),
		)
		return
	}
	applog.Debug("Applying remote roster", zap.String("roomId", msg.RoomId), zap.Int("npcs", len(msg.Npcs)))
	e.host.Room.ShowRoster(msg.Npcs)
}

// HandleRoomSimClose closes the room the other side just left, without echoing the close.
func (e *Engine) HandleRoomSimClose(sender protocol.MemberId, msg *protocol.RoomSimCloseMessage) {
	session, ok := e.registry.Room()
	if !ok || session.RoomId != msg.RoomId || session.Opponent != sender {
		applog.Debug("Ignoring close for another room",
			zap.String("roomId", msg.RoomId),
			zap.Int64("sender", sender),
		)
		return
	}
	e.closeSimulated(false)
	e.host.Notices.Notify(host.NoticePeerLeftRoom)
}

func (e *Engine) canTravel() bool {
	local, ok := e.host.Directory.Local()
	return ok && local.CanWalk()
}

func (e *Engine) checkTravel(op string, def catalog.RoomDefinition) error {
	local, _ := e.host.Directory.Local()
	if e.host.Directory.InChatRoom() && e.canTravel() && def.Meets(local) {
		return nil
	}
	applog.Info("Local player cannot travel", zap.String("roomId", def.Id))
	e.host.Notices.Notify(host.NoticeCannotTravel)
	return failure.Precondition(op, fmt.Errorf("%w: %w", ErrCannotTravel, catalog.ErrRequirementsNotMet))
}

func (e *Engine) enter(def catalog.RoomDefinition, hostId, guestId protocol.MemberId) error {
	if def.IsSimulatedShared() {
		e.openSimulated(def, hostId, guestId)
		return nil
	}

	e.closeSimulated(true)
	if err := e.host.Activity.EnterRoom(def.Module, def.Screen); err != nil {
		applog.Error("Failed to move to room", zap.String("roomId", def.Id), zap.Error(err))
		return failure.Precondition("enter "+def.Id, fmt.Errorf("host enter room: %w", err))
	}
	applog.Info("Entered room", zap.String("roomId", def.Id))
	return nil
}

// openSimulated replaces any open simulated room without notifying its peer.
func (e *Engine) openSimulated(def catalog.RoomDefinition, hostId, guestId protocol.MemberId) {
	local := host.LocalMemberId(e.host.Directory)
	opponent := hostId
	if local == hostId {
		opponent = guestId
	}
	if opponent == local {
		opponent = protocol.UnknownMember
	}

	if previous := e.registry.OpenRoom(registry.RoomSession{
		RoomId:   def.Id,
		Host:     hostId,
		Guest:    guestId,
		Opponent: opponent,
	}); previous != nil {
		applog.Debug("Replacing open room", zap.String("previousRoomId", previous.RoomId))
		e.host.Room.Close()
	}
	session, _ := e.registry.Room()

	applog.Info("Opened shared room",
		zap.String("roomId", def.Id),
		zap.Int64("host", hostId),
		zap.Int64("guest", guestId),
	)
	e.host.Room.Open(def.Id, hostId, guestId, func() {
		e.post(func() { e.dismissed(session) })
	})

	if local != hostId {
		e.host.Room.ShowRoster(nil)
		return
	}
	e.host.Roster.Collect(func(npcs []protocol.NpcSnapshot, err error) {
		e.post(func() { e.pushRoster(session, npcs, err) })
	})
}

func (e *Engine) pushRoster(session *registry.RoomSession, npcs []protocol.NpcSnapshot, err error) {
	logger := applog.GetLogger().With(zap.String("roomId", session.RoomId))

	current, ok := e.registry.Room()
	local := host.LocalMemberId(e.host.Directory)
	if !ok || current != session || session.Host != local {
		logger.Debug("Dropping roster, room changed while collecting")
		return
	}
	if err != nil {
		logger.Warn("Could not collect roster", zap.Error(err))
		return
	}
	if len(npcs) == 0 {
		logger.Debug("Roster is empty, nothing to share")
		return
	}

	e.host.Room.ShowRoster(npcs)
	if session.Guest == local || !session.HasOpponent() {
		return
	}
	ctx := applog.AddContextFields(applog.WithPeer(e.ctx, session.Guest), zap.String("roomId", session.RoomId))
	e.sender.Send(ctx, session.Guest, protocol.NewRoomNpcSyncMessage(session.RoomId, local, npcs))
}

// dismissed handles the user closing the room view. A late dismissal of a replaced room
// is ignored.
func (e *Engine) dismissed(session *registry.RoomSession) {
	if current, ok := e.registry.Room(); !ok || current != session {
		return
	}
	e.clearSession(true)
}

func (e *Engine) closeSimulated(notify bool) {
	e.clearSession(notify)
	e.host.Room.Close()
}

func (e *Engine) clearSession(notify bool) {
	session, ok := e.registry.CloseRoom()
	if !ok {
		return
	}
	applog.Info("Closed shared room", zap.String("roomId", session.RoomId), zap.Bool("notify", notify))
	if !notify || !session.HasOpponent() {
		return
	}
	ctx := applog.AddContextFields(applog.WithPeer(e.ctx, session.Opponent), zap.String("roomId", session.RoomId))
	e.sender.Send(ctx, session.Opponent, protocol.NewRoomSimCloseMessage(session.RoomId))
}

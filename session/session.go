// Package session wires the negotiation, room and live-state engines to one chat channel
// and runs them on a single event loop. All registry state is owned by that loop; the
// exported methods hand work to it and wait for the result.
package session

import (
	"club-link/applog"
	"club-link/catalog"
	"club-link/hookinstall"
	"club-link/host"
	"club-link/idgen"
	"club-link/livestate"
	"club-link/negotiation"
	"club-link/protocol"
	"club-link/registry"
	"club-link/room"
	"club-link/transport"
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"time"
)

const (
	HookChatMessages   = "chatMessages"
	HookActivityReturn = "activityReturn"
)

var ErrSessionClosed = errors.New("session is closed")

type Config struct {
	InviteTTL         time.Duration
	MatchIdleTTL      time.Duration
	ScorePollInterval time.Duration
	SweepInterval     time.Duration
	HookRetryInterval time.Duration
	HookRetryAttempts int
	InboundQueueSize  int
}

func DefaultConfig() Config {
	return Config{
		InviteTTL:         registry.DefaultInviteTTL,
		MatchIdleTTL:      registry.DefaultMatchIdleTTL,
		ScorePollInterval: 200 * time.Millisecond,
		SweepInterval:     time.Minute,
		HookRetryInterval: hookinstall.DefaultInterval,
		HookRetryAttempts: hookinstall.DefaultMaxAttempts,
		InboundQueueSize:  256,
	}
}

// Snapshot is a point-in-time copy of the registry for display and diagnostics.
type Snapshot struct {
	LocalMember        protocol.MemberId
	PendingInvites     int
	PendingRoomInvites int
	Match              *registry.MatchSyncState
	Room               *registry.RoomSession
	Hooks              map[string]hookinstall.State
}

type Session struct {
	ctx  context.Context
	cfg  Config
	host host.Host

	adapter     *transport.Adapter
	hooks       *hookinstall.Installer
	registry    *registry.Registry
	negotiation *negotiation.Engine
	rooms       *room.Engine
	matches     *livestate.Relay

	inbound chan transport.Inbound
	actions chan func()
	stopped chan struct{}
}

// New builds a session on channel. A nil catalogue means the built-in one.
func New(ctx context.Context, cfg Config, h host.Host, cat *catalog.Catalog, channel transport.Channel) (*Session, error) {
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}
	if channel == nil {
		return nil, errors.New("chat channel is missing")
	}
	if cat == nil {
		var err error
		if cat, err = catalog.Default(); err != nil {
			return nil, fmt.Errorf("load built-in catalogue: %w", err)
		}
	}
	defaults := DefaultConfig()
	if cfg.ScorePollInterval <= 0 {
		cfg.ScorePollInterval = defaults.ScorePollInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = defaults.InboundQueueSize
	}

	s := &Session{
		ctx:      ctx,
		cfg:      cfg,
		host:     h,
		adapter:  transport.NewAdapter(channel),
		hooks:    hookinstall.New(cfg.HookRetryInterval, cfg.HookRetryAttempts),
		registry: registry.New(cfg.InviteTTL, cfg.MatchIdleTTL),
		inbound:  make(chan transport.Inbound, cfg.InboundQueueSize),
		actions:  make(chan func(), 64),
		stopped:  make(chan struct{}),
	}

	ids := idgen.New(func() protocol.MemberId { return host.LocalMemberId(h.Directory) })
	s.matches = livestate.New(ctx, s.registry, h.Directory, h.Score, s.adapter)
	s.negotiation = negotiation.New(ctx, cat, s.registry, h, ids, s.adapter, s.matches, s.post)
	s.rooms = room.New(ctx, cat, s.registry, h, ids, s.adapter, s.post)
	return s, nil
}

// Start installs the host hooks and runs the event loop until the context is cancelled.
func (s *Session) Start() {
	defer close(s.stopped)

	s.hooks.Install(s.ctx, HookChatMessages, func() error {
		return s.adapter.Subscribe(s.enqueue)
	})
	s.hooks.Install(s.ctx, HookActivityReturn, func() error {
		return s.host.Activity.RegisterReturnHandler(host.ReturnHandlerName, func() {
			s.post(s.negotiation.HandleReturn)
		})
	})

	poll := time.NewTicker(s.cfg.ScorePollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	applog.Info("Session started", zap.Int64("memberId", host.LocalMemberId(s.host.Directory)))
	for {
		select {
		case in := <-s.inbound:
			s.dispatch(in)
		case fn := <-s.actions:
			fn()
		case <-poll.C:
			s.matches.Poll()
		case <-sweep.C:
			s.sweep()
		case <-s.ctx.Done():
			applog.Debug("Session exited, context canceled")
			return
		}
	}
}

// Done is closed once the event loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

func (s *Session) enqueue(in transport.Inbound) {
	select {
	case s.inbound <- in:
	default:
		applog.Warn("Inbound queue overflow, dropping message",
			zap.Int64("sender", in.Sender),
			zap.String("kind", in.Message.GetKind()),
		)
	}
}

// post schedules fn on the event loop without blocking the caller.
func (s *Session) post(fn func()) {
	select {
	case s.actions <- fn:
		return
	default:
	}
	go func() {
		select {
		case s.actions <- fn:
		case <-s.stopped:
		case <-s.ctx.Done():
		}
	}()
}

// call runs fn on the event loop and waits for it. It must not be used from the loop
// itself, including host callbacks invoked synchronously by the engines.
func (s *Session) call(fn func()) error {
	done := make(chan struct{})
	select {
	case s.actions <- func() { fn(); close(done) }:
	case <-s.stopped:
		return ErrSessionClosed
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrSessionClosed
	}
}

func (s *Session) dispatch(in transport.Inbound) {
	switch msg := in.Message.(type) {
	case *protocol.InviteMessage:
		s.negotiation.HandleInvite(in.Sender, msg)
	case *protocol.ResponseMessage:
		s.negotiation.HandleResponse(in.Sender, msg)
	case *protocol.ForceStartMessage:
		s.negotiation.HandleForceStart(in.Sender, msg)
	case *protocol.TennisScoreMessage:
		s.matches.Apply(in.Sender, msg)
	case *protocol.RoomInviteMessage:
		s.rooms.HandleRoomInvite(in.Sender, msg)
	case *protocol.RoomResponseMessage:
		s.rooms.HandleRoomResponse(in.Sender, msg)
	case *protocol.RoomForceMessage:
		s.rooms.HandleRoomForce(in.Sender, msg)
	case *protocol.RoomNpcSyncMessage:
		s.rooms.HandleRoomNpcSync(in.Sender, msg)
	case *protocol.RoomSimCloseMessage:
		s.rooms.HandleRoomSimClose(in.Sender, msg)
	default:
		applog.Debug("Ignoring unhandled message", zap.String("kind", in.Message.GetKind()))
	}
}

func (s *Session) sweep() {
	result := s.registry.Sweep()
	if result == (registry.SweepResult{}) {
		return
	}
	applog.Info("Expired stale negotiation state",
		zap.Int("invites", result.Invites),
		zap.Int("roomInvites", result.RoomInvites),
		zap.Int("inbound", result.Inbound),
		zap.Bool("match", result.Match),
	)
}

func (s *Session) RequestActivity(activityId string, opponent protocol.MemberId) (negotiation.Outcome, error) {
	var outcome negotiation.Outcome
	var err error
	if callErr := s.call(func() { outcome, err = s.negotiation.RequestActivity(activityId, opponent) }); callErr != nil {
		return 0, callErr
	}
	return outcome, err
}

func (s *Session) LaunchSolo(activityId string) error {
	var err error
	if callErr := s.call(func() { err = s.negotiation.LaunchSolo(activityId) }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) VisitRoom(roomId string) error {
	var err error
	if callErr := s.call(func() { err = s.rooms.VisitRoom(roomId) }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) InviteToRoom(roomId string, opponent protocol.MemberId) (room.Outcome, error) {
	var outcome room.Outcome
	var err error
	if callErr := s.call(func() { outcome, err = s.rooms.InviteToRoom(roomId, opponent) }); callErr != nil {
		return 0, callErr
	}
	return outcome, err
}

// CloseRoom leaves the open simulated room, if any.
func (s *Session) CloseRoom() (bool, error) {
	var closed bool
	err := s.call(func() { closed = s.rooms.CloseRoom() })
	return closed, err
}

// ScoreChanged checks the scoreboard right away instead of waiting for the next poll.
func (s *Session) ScoreChanged() {
	s.post(s.matches.Poll)
}

func (s *Session) CanShowActivities(target protocol.MemberId) bool {
	var ok bool
	if err := s.call(func() { ok = s.negotiation.CanShowActivities(target) }); err != nil {
		return false
	}
	return ok
}

func (s *Session) CanShowRooms(target protocol.MemberId) bool {
	var ok bool
	if err := s.call(func() { ok = s.rooms.CanShowRooms(target) }); err != nil {
		return false
	}
	return ok
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.call(func() {
		snap = Snapshot{
			LocalMember:        host.LocalMemberId(s.host.Directory),
			PendingInvites:     s.registry.PendingInvites(),
			PendingRoomInvites: s.registry.PendingRoomInvites(),
			Hooks: map[string]hookinstall.State{
				HookChatMessages:   s.hooks.State(HookChatMessages),
				HookActivityReturn: s.hooks.State(HookActivityReturn),
			},
		}
		if match, ok := s.registry.Match(); ok {
			copied := *match
			snap.Match = &copied
		}
		if current, ok := s.rooms.Current(); ok {
			snap.Room = &current
		}
	})
	return snap, err
}

// Package registry owns the mutable negotiation state of one session: pending activity
// and room invites, the active match and the open simulated room.
//
// A Registry is not safe for concurrent use. It is owned by the session event loop and
// every read-decide-mutate sequence runs on that loop.
package registry

import (
	"club-link/protocol"
	"errors"
	"fmt"
	"time"
)

var ErrDuplicateInvite = errors.New("invite id already pending")

const (
	DefaultInviteTTL    = 10 * time.Minute
	DefaultMatchIdleTTL = 30 * time.Minute
)

type PendingInvite struct {
	InviteId string
	// SubjectId is the activity or room the invite is for.
	SubjectId string
	Opponent  protocol.MemberId
	MatchId   string
	CreatedAt time.Time
}

type MatchSyncState struct {
	MatchId     string
	ActivityId  string
	Opponent    protocol.MemberId
	LeftMember  protocol.MemberId
	RightMember protocol.MemberId
	LastLeft    int
	LastRight   int
	LastTraffic time.Time
}

type RoomSession struct {
	RoomId string
	Host   protocol.MemberId
	Guest  protocol.MemberId
	// Opponent is protocol.UnknownMember for a solo visit.
	Opponent protocol.MemberId
}

func (r *RoomSession) HasOpponent() bool {
	return r.Opponent != protocol.UnknownMember
}

type SweepResult struct {
	Invites     int
	RoomInvites int
	// Inbound counts remembered inbound invite ids that were forgotten.
	Inbound int
	Match   bool
}

type Registry struct {
	now          func() time.Time
	inviteTTL    time.Duration
	matchIdleTTL time.Duration

	invites     map[string]PendingInvite
	roomInvites map[string]PendingInvite
	// inbound holds the ids of invites received from others, keyed per sender and kind,
	// with the time they first arrived.
	inbound map[inboundKey]time.Time
	match       *MatchSyncState
	room        *RoomSession
}

// New creates an empty registry. A non-positive TTL disables that expiry.
func New(inviteTTL, matchIdleTTL time.Duration) *Registry {
	return &Registry{
		now:          time.Now,
		inviteTTL:    inviteTTL,
		matchIdleTTL: matchIdleTTL,
		invites:      make(map[string]PendingInvite),
		roomInvites:  make(map[string]PendingInvite),
		inbound:      make(map[inboundKey]time.Time),
	}
}

func (r *Registry) Now() time.Time {
	return r.now()
}

func (r *Registry) AddInvite(invite PendingInvite) error {
	return r.add(r.invites, invite)
}

// TakeInvite removes and returns the pending invite on first match. Expired or unknown
// ids report false. An invite addressed to someone other than from stays pending.
func (r *Registry) TakeInvite(inviteId string, from protocol.MemberId) (PendingInvite, bool) {
	return r.take(r.invites, inviteId, from)
}

func (r *Registry) AddRoomInvite(invite PendingInvite) error {
	return r.add(r.roomInvites, invite)
}

func (r *Registry) TakeRoomInvite(inviteId string, from protocol.MemberId) (PendingInvite, bool) {
	return r.take(r.roomInvites, inviteId, from)
}

type inboundKey struct {
	room     bool
	sender   protocol.MemberId
	inviteId string
}

// FirstInboundInvite records an activity invite received from sender and reports
// whether it is new. A repeated id within the invite TTL reports false.
func (r *Registry) FirstInboundInvite(sender protocol.MemberId, inviteId string) bool {
	return r.firstInbound(inboundKey{sender: sender, inviteId: inviteId})
}

func (r *Registry) FirstInboundRoomInvite(sender protocol.MemberId, inviteId string) bool {
	return r.firstInbound(inboundKey{room: true, sender: sender, inviteId: inviteId})
}

func (r *Registry) firstInbound(key inboundKey) bool {
	if seenAt, ok := r.inbound[key]; ok && !r.expired(seenAt) {
		return false
	}
	r.inbound[key] = r.now()
	return true
}

func (r *Registry) PendingInvites() int {
	return len(r.invites)
}

func (r *Registry) PendingRoomInvites() int {
	return len(r.roomInvites)
}

func (r *Registry) add(invites map[string]PendingInvite, invite PendingInvite) error {
	if _, exists := invites[invite.InviteId]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateInvite, invite.InviteId)
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = r.now()
	}
	invites[invite.InviteId] = invite
	return nil
}

func (r *Registry) take(invites map[string]PendingInvite, inviteId string, from protocol.MemberId) (PendingInvite, bool) {
	invite, ok := invites[inviteId]
	if !ok {
		return PendingInvite{}, false
	}
	if r.expired(invite.CreatedAt) {
		delete(invites, inviteId)
		return PendingInvite{}, false
	}
	if invite.Opponent != from {
		return PendingInvite{}, false
	}
	delete(invites, inviteId)
	return invite, true
}

func (r *Registry) expired(createdAt time.Time) bool {
	return r.inviteTTL > 0 && r.now().Sub(createdAt) >= r.inviteTTL
}

// StartMatch replaces any previous match.
func (r *Registry) StartMatch(match MatchSyncState) {
	match.LastTraffic = r.now()
	r.match = &match
}

// Match returns the active match, dropping it first if it has been idle too long.
func (r *Registry) Match() (*MatchSyncState, bool) {
	if r.match == nil {
		return nil, false
	}
	if r.matchExpired() {
		r.match = nil
		return nil, false
	}
	return r.match, true
}

// RecordScore stores the last known tuple and refreshes the idle timer.
func (r *Registry) RecordScore(left, right int) {
	if r.match == nil {
		return
	}
	r.match.LastLeft = left
	r.match.LastRight = right
	r.match.LastTraffic = r.now()
}

func (r *Registry) ClearMatch() {
	r.match = nil
}

func (r *Registry) matchExpired() bool {
	return r.matchIdleTTL > 0 && r.now().Sub(r.match.LastTraffic) >= r.matchIdleTTL
}

// OpenRoom installs session as the single open room and returns the one it replaced.
func (r *Registry) OpenRoom(session RoomSession) *RoomSession {
	previous := r.room
	r.room = &session
	return previous
}

func (r *Registry) Room() (*RoomSession, bool) {
	return r.room, r.room != nil
}

// CloseRoom removes the open room and returns it.
func (r *Registry) CloseRoom() (*RoomSession, bool) {
	closed := r.room
	r.room = nil
	return closed, closed != nil
}

// Sweep drops expired invites, remembered inbound invite ids and an idle match.
func (r *Registry) Sweep() SweepResult {
	var result SweepResult
	for id, invite := range r.invites {
		if r.expired(invite.CreatedAt) {
			delete(r.invites, id)
			result.Invites++
		}
	}
	for id, invite := range r.roomInvites {
		if r.expired(invite.CreatedAt) {
			delete(r.roomInvites, id)
			result.RoomInvites++
		}
	}
	for key, seenAt := range r.inbound {
		if r.expired(seenAt) {
			delete(r.inbound, key)
			result.Inbound++
		}
	}
	if r.match != nil && r.matchExpired() {
		r.match = nil
		result.Match = true
	}
	return result
}

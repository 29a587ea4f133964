// Package host describes everything the session core needs from the surrounding client:
// participant lookups, activity launching, the score board, prompts and notices, the NPC
// roster and the simulated room view. The core never reaches past these interfaces.
package host

import (
	"club-link/catalog"
	"club-link/protocol"
	"errors"
	"fmt"
)

// ErrHookUnavailable is returned by hook registration methods while the host has not
// exposed the hook point yet. Callers retry with a bounded policy.
var ErrHookUnavailable = errors.New("host hook is not available yet")

// ReturnHandlerName is what the host calls when a launched activity ends.
const ReturnHandlerName = "ClubLinkActivityReturn"

// Participant is a host-owned character. All predicates are synchronous and side-effect free.
type Participant interface {
	catalog.Capabilities
	MemberId() protocol.MemberId
	Name() string
	Nickname() string
	IsLocal() bool
	IsOnline() bool
	IsOwnedByLocal() bool
	// InReach is false when the host blocks interaction by distance.
	InReach() bool
}

type Directory interface {
	// Local returns false until the host knows the logged-in player.
	Local() (Participant, bool)
	// Find resolves a member currently present in the chat room.
	Find(memberId protocol.MemberId) (Participant, bool)
	InChatRoom() bool
}

type ActivityHost interface {
	Launch(activityId, difficulty, returnHandler string) error
	RegisterReturnHandler(name string, handler func()) error
	InChatView() bool
	ShowChatView() error
	EnterRoom(module, screen string) error
}

// Scoreboard exposes the two-seat score of the running head-to-head activity.
type Scoreboard interface {
	SeatPlayers(left, right Participant) error
	Points() (left, right int)
	SetPoints(left, right int)
}

type DecisionSurface interface {
	// Prompt invokes exactly one of accept or decline, exactly once.
	Prompt(message string, accept, decline func())
}

type Notifier interface {
	Notify(message string)
}

// RosterCollector gathers locally known NPCs. done may be called from any goroutine,
// at any time after Collect returns.
type RosterCollector interface {
	Collect(done func(npcs []protocol.NpcSnapshot, err error))
}

// RoomView renders the simulated shared room. onClose fires only when the local user
// dismisses the view, never as a result of Close.
type RoomView interface {
	Open(roomId string, hostMember, guestMember protocol.MemberId, onClose func())
	Close()
	ShowRoster(npcs []protocol.NpcSnapshot)
}

// Host bundles every collaborator the session needs.
type Host struct {
	Directory Directory
	Activity  ActivityHost
	Score     Scoreboard
	Decisions DecisionSurface
	Notices   Notifier
	Roster    RosterCollector
	Room      RoomView
}

func (h Host) Validate() error {
	switch {
	case h.Directory == nil:
		return errors.New("host directory is missing")
	case h.Activity == nil:
		return errors.New("host activity launcher is missing")
	case h.Score == nil:
		return errors.New("host scoreboard is missing")
	case h.Decisions == nil:
		return errors.New("host decision surface is missing")
	case h.Notices == nil:
		return errors.New("host notifier is missing")
	case h.Roster == nil:
		return errors.New("host roster collector is missing")
	case h.Room == nil:
		return errors.New("host room view is missing")
	}
	return nil
}

// DisplayName picks the nickname, then the name, then a member number placeholder.
func DisplayName(p Participant) string {
	if p == nil {
		return "Unknown player"
	}
	if nick := p.Nickname(); nick != "" {
		return nick
	}
	if name := p.Name(); name != "" {
		return name
	}
	if id := p.MemberId(); id > 0 {
		return fmt.Sprintf("Player %d", id)
	}
	return "Unknown player"
}

// LocalMemberId returns protocol.UnknownMember when the local player is not known yet.
func LocalMemberId(d Directory) protocol.MemberId {
	if local, ok := d.Local(); ok {
		return local.MemberId()
	}
	return protocol.UnknownMember
}

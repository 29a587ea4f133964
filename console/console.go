// Package console is a headless host that renders everything as text lines and reads
// commands from a terminal. It stands in for the graphical client.
package console

import (
	"club-link/applog"
	"club-link/host"
	"club-link/protocol"
	"fmt"
	"go.uber.org/zap"
	"io"
	"sort"
	"strings"
	"sync"
)

type Member struct {
	Id       protocol.MemberId
	Name     string
	Nickname string
	Owned    bool
	Online   bool
	// Far marks a member out of interaction reach.
	Far          bool
	CannotWalk   bool
	CannotTalk   bool
	CannotChange bool
	Restrained   bool
	local        bool
}

// participant adapts a Member to host.Participant.
type participant struct{ m Member }

func (p participant) MemberId() protocol.MemberId { return p.m.Id }
func (p participant) Name() string                { return p.m.Name }
func (p participant) Nickname() string            { return p.m.Nickname }
func (p participant) IsLocal() bool               { return p.m.local }
func (p participant) IsOnline() bool              { return p.m.local || p.m.Online }
func (p participant) IsOwnedByLocal() bool        { return p.m.Owned }
func (p participant) InReach() bool               { return !p.m.Far }
func (p participant) CanWalk() bool               { return !p.m.CannotWalk }
func (p participant) CanTalk() bool               { return !p.m.CannotTalk }
func (p participant) CanChangeOwnClothes() bool   { return !p.m.CannotChange }
func (p participant) IsRestrained() bool          { return p.m.Restrained }

type prompt struct {
	message string
	accept  func()
	decline func()
}

type openRoom struct {
	roomId  string
	host    protocol.MemberId
	guest   protocol.MemberId
	onClose func()
}

// Console implements every host collaborator. It is safe for concurrent use; the session
// loop calls into it while the command reader runs on another goroutine.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	local   Member
	members map[protocol.MemberId]Member
	npcs    []protocol.NpcSnapshot
	inChat  bool

	view           string
	returnHandlers map[string]func()

	leftSeat, rightSeat protocol.MemberId
	left, right         int

	prompts []prompt
	room    *openRoom
}

func New(out io.Writer, local Member, others []Member, npcs []protocol.NpcSnapshot) *Console {
	local.local = true
	c := &Console{
		out:            out,
		local:          local,
		members:        make(map[protocol.MemberId]Member),
		npcs:           append([]protocol.NpcSnapshot(nil), npcs...),
		inChat:         true,
		returnHandlers: make(map[string]func()),
	}
	c.members[local.Id] = local
	for _, m := range others {
		c.members[m.Id] = m
	}
	return c
}

// Host returns the console as a full set of host collaborators.
func (c *Console) Host() host.Host {
	return host.Host{
		Directory: c,
		Activity:  c,
		Score:     c,
		Decisions: c,
		Notices:   c,
		Roster:    c,
		Room:      c,
	}
}

func (c *Console) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(c.out, format+"\n", args...); err != nil {
		applog.Debug("Console write failed", zap.Error(err))
	}
}

func (c *Console) printLocked(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf(format, args...)
}

func (c *Console) displayName(memberId protocol.MemberId) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nameOf(memberId)
}

func (c *Console) nameOf(memberId protocol.MemberId) string {
	m, ok := c.members[memberId]
	if !ok {
		return fmt.Sprintf("Player %d", memberId)
	}
	return host.DisplayName(participant{m})
}

func (c *Console) Local() (host.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local.Id <= 0 {
		return nil, false
	}
	return participant{c.local}, true
}

func (c *Console) Find(memberId protocol.MemberId) (host.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[memberId]
	if !ok {
		return nil, false
	}
	return participant{m}, true
}

func (c *Console) InChatRoom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inChat
}

// SetInChatRoom follows the chat connection state.
func (c *Console) SetInChatRoom(inChat bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inChat = inChat
}

// SetOnline marks a member as present or gone.
func (c *Console) SetOnline(memberId protocol.MemberId, online bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[memberId]
	if !ok || m.local {
		return false
	}
	m.Online = online
	c.members[memberId] = m
	return true
}

func (c *Console) Launch(activityId, difficulty, returnHandler string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = activityId
	c.printf("> %s started (difficulty %s). Type 'return' when done.", activityId, difficulty)
	return nil
}

func (c *Console) RegisterReturnHandler(name string, handler func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returnHandlers[name] = handler
	return nil
}

func (c *Console) InChatView() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view == ""
}

func (c *Console) ShowChatView() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = ""
	c.printf("> Back in the chat room.")
	return nil
}

func (c *Console) EnterRoom(module, screen string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = module + "/" + screen
	c.printf("> You walk into %s. Type 'return' to go back.", screen)
	return nil
}

// finishActivity ends the current activity or room through the registered return handler.
func (c *Console) finishActivity() error {
	c.mu.Lock()
	handler, ok := c.returnHandlers[host.ReturnHandlerName]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("return hook is not installed")
	}
	handler()
	return nil
}

func (c *Console) SeatPlayers(left, right host.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leftSeat, c.rightSeat = left.MemberId(), right.MemberId()
	c.left, c.right = 0, 0
	return nil
}

func (c *Console) Points() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left, c.right
}

func (c *Console) SetPoints(left, right int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left, c.right = left, right
	c.printScore()
}

// play records a locally scored point.
func (c *Console) play(left, right int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left, c.right = left, right
	c.printScore()
}

func (c *Console) printScore() {
	c.printf("> Score: %s %d - %d %s", c.nameOf(c.leftSeat), c.left, c.right, c.nameOf(c.rightSeat))
}

func (c *Console) Prompt(message string, accept, decline func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt{message, accept, decline})
	c.printf("? %s [accept/decline]", message)
}

// answer resolves the oldest open prompt.
func (c *Console) answer(accepted bool) bool {
	c.mu.Lock()
	if len(c.prompts) == 0 {
		c.mu.Unlock()
		return false
	}
	p := c.prompts[0]
	c.prompts = c.prompts[1:]
	c.mu.Unlock()

	if accepted {
		p.accept()
	} else {
		p.decline()
	}
	return true
}

func (c *Console) Notify(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("* %s", message)
}

func (c *Console) Collect(done func([]protocol.NpcSnapshot, error)) {
	c.mu.Lock()
	npcs := append([]protocol.NpcSnapshot(nil), c.npcs...)
	c.mu.Unlock()
	go done(npcs, nil)
}

func (c *Console) Open(roomId string, hostMember, guestMember protocol.MemberId, onClose func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = &openRoom{roomId: roomId, host: hostMember, guest: guestMember, onClose: onClose}
	c.printf("> %s is open. Host: %s, guest: %s. Type 'leave' to close it.",
		roomId, c.nameOf(hostMember), c.nameOf(guestMember))
}

func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return
	}
	c.printf("> %s closed.", c.room.roomId)
	c.room = nil
}

func (c *Console) ShowRoster(npcs []protocol.NpcSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(npcs) == 0 {
		c.printf("> Nobody else is here yet.")
		return
	}
	names := make([]string, 0, len(npcs))
	for _, npc := range npcs {
		name := npc.Name
		if npc.Nickname != "" {
			name = npc.Nickname
		}
		if npc.Title != "" {
			name += " (" + npc.Title + ")"
		}
		names = append(names, name)
	}
	c.printf("> Also here: %s", strings.Join(names, ", "))
}

// leaveRoom dismisses the room view as the local user.
func (c *Console) leaveRoom() bool {
	c.mu.Lock()
	open := c.room
	c.room = nil
	if open != nil {
		c.printf("> You leave %s.", open.roomId)
	}
	c.mu.Unlock()

	if open == nil {
		return false
	}
	if open.onClose != nil {
		open.onClose()
	}
	return true
}

func (c *Console) memberList() []Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// Package hosttest provides in-memory fakes of the host collaborators.
package hosttest

import (
	"club-link/host"
	"club-link/protocol"
	"errors"
	"sync"
)

type Participant struct {
	Id           protocol.MemberId
	PlayerName   string
	PlayerNick   string
	Local        bool
	Online       bool
	OwnedByLocal bool
	Unreachable  bool
	CannotWalk   bool
	CannotTalk   bool
	CannotChange bool
	Restrained   bool
}

func (p *Participant) MemberId() protocol.MemberId { return p.Id }
func (p *Participant) Name() string                { return p.PlayerName }
func (p *Participant) Nickname() string            { return p.PlayerNick }
func (p *Participant) IsLocal() bool               { return p.Local }
func (p *Participant) IsOnline() bool              { return p.Online }
func (p *Participant) IsOwnedByLocal() bool        { return p.OwnedByLocal }
func (p *Participant) InReach() bool               { return !p.Unreachable }
func (p *Participant) CanWalk() bool               { return !p.CannotWalk }
func (p *Participant) CanTalk() bool               { return !p.CannotTalk }
func (p *Participant) CanChangeOwnClothes() bool   { return !p.CannotChange }
func (p *Participant) IsRestrained() bool          { return p.Restrained }

type Directory struct {
	mu        sync.Mutex
	local     *Participant
	members   map[protocol.MemberId]*Participant
	OutOfChat bool
}

func NewDirectory(local *Participant, others ...*Participant) *Directory {
	d := &Directory{
		local:   local,
		members: make(map[protocol.MemberId]*Participant),
	}
	if local != nil {
		local.Local = true
		local.Online = true
		d.members[local.Id] = local
	}
	for _, p := range others {
		d.members[p.Id] = p
	}
	return d
}

func (d *Directory) Local() (host.Participant, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.local == nil {
		return nil, false
	}
	return d.local, true
}

func (d *Directory) Find(memberId protocol.MemberId) (host.Participant, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.members[memberId]
	if !ok {
		return nil, false
	}
	return p, true
}

func (d *Directory) InChatRoom() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.OutOfChat
}

func (d *Directory) Add(p *Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[p.Id] = p
}

func (d *Directory) Remove(memberId protocol.MemberId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members, memberId)
}

type Launch struct {
	ActivityId    string
	Difficulty    string
	ReturnHandler string
}

type RoomEntry struct {
	Module string
	Screen string
}

type ActivityHost struct {
	mu            sync.Mutex
	launches      []Launch
	entries       []RoomEntry
	handlers      map[string]func()
	inChatView    bool
	chatViewShown int
	// UnavailableFor makes RegisterReturnHandler fail that many times first.
	UnavailableFor int
	LaunchErr      error
}

func NewActivityHost() *ActivityHost {
	return &ActivityHost{
		handlers:   make(map[string]func()),
		inChatView: true,
	}
}

func (a *ActivityHost) Launch(activityId, difficulty, returnHandler string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.LaunchErr != nil {
		return a.LaunchErr
	}
	a.launches = append(a.launches, Launch{activityId, difficulty, returnHandler})
	a.inChatView = false
	return nil
}

func (a *ActivityHost) RegisterReturnHandler(name string, handler func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.UnavailableFor > 0 {
		a.UnavailableFor--
		return host.ErrHookUnavailable
	}
	a.handlers[name] = handler
	return nil
}

func (a *ActivityHost) InChatView() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inChatView
}

func (a *ActivityHost) ShowChatView() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inChatView = true
	a.chatViewShown++
	return nil
}

func (a *ActivityHost) EnterRoom(module, screen string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, RoomEntry{module, screen})
	a.inChatView = false
	return nil
}

// Return simulates the host ending the current activity through a registered handler.
func (a *ActivityHost) Return(name string) error {
	a.mu.Lock()
	handler, ok := a.handlers[name]
	a.mu.Unlock()
	if !ok {
		return errors.New("return handler not registered: " + name)
	}
	handler()
	return nil
}

func (a *ActivityHost) Launches() []Launch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Launch(nil), a.launches...)
}

func (a *ActivityHost) RoomEntries() []RoomEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]RoomEntry(nil), a.entries...)
}

func (a *ActivityHost) ChatViewShown() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatViewShown
}

type Scoreboard struct {
	mu                  sync.Mutex
	left, right         int
	leftSeat, rightSeat protocol.MemberId
	writes              int
}

func (s *Scoreboard) SeatPlayers(left, right host.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leftSeat = left.MemberId()
	s.rightSeat = right.MemberId()
	return nil
}

func (s *Scoreboard) Seats() (left, right protocol.MemberId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leftSeat, s.rightSeat
}

func (s *Scoreboard) Points() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left, s.right
}

func (s *Scoreboard) SetPoints(left, right int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.right = left, right
	s.writes++
}

// Play changes the score the way local gameplay would, without counting as a write.
func (s *Scoreboard) Play(left, right int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.right = left, right
}

// Writes counts SetPoints calls, i.e. remote updates applied to the board.
func (s *Scoreboard) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type Decision int

const (
	// Hold keeps the prompt open until Resolve is called.
	Hold Decision = iota
	Accept
	Decline
)

type pendingPrompt struct {
	message string
	accept  func()
	decline func()
}

type Decisions struct {
	mu      sync.Mutex
	Answer  Decision
	prompts []string
	held    []pendingPrompt
}

func (d *Decisions) Prompt(message string, accept, decline func()) {
	d.mu.Lock()
	d.prompts = append(d.prompts, message)
	answer := d.Answer
	if answer == Hold {
		d.held = append(d.held, pendingPrompt{message, accept, decline})
	}
	d.mu.Unlock()

	switch answer {
	case Accept:
		accept()
	case Decline:
		decline()
	}
}

// Resolve answers the oldest held prompt and reports whether one existed.
func (d *Decisions) Resolve(accepted bool) bool {
	d.mu.Lock()
	if len(d.held) == 0 {
		d.mu.Unlock()
		return false
	}
	p := d.held[0]
	d.held = d.held[1:]
	d.mu.Unlock()

	if accepted {
		p.accept()
	} else {
		p.decline()
	}
	return true
}

func (d *Decisions) Prompts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.prompts...)
}

type Notifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *Notifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, message)
}

func (n *Notifier) Notices() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...)
}

// Roster completes collection either immediately with Npcs, or later via Complete
// when Deferred is set.
type Roster struct {
	mu       sync.Mutex
	Npcs     []protocol.NpcSnapshot
	Err      error
	Deferred bool
	waiting  []func([]protocol.NpcSnapshot, error)
	calls    int
}

func (r *Roster) Collect(done func([]protocol.NpcSnapshot, error)) {
	r.mu.Lock()
	r.calls++
	if r.Deferred {
		r.waiting = append(r.waiting, done)
		r.mu.Unlock()
		return
	}
	npcs, err := r.Npcs, r.Err
	r.mu.Unlock()
	done(npcs, err)
}

// Complete finishes every deferred collection with the given roster.
func (r *Roster) Complete(npcs []protocol.NpcSnapshot, err error) {
	r.mu.Lock()
	waiting := r.waiting
	r.waiting = nil
	r.mu.Unlock()
	for _, done := range waiting {
		done(npcs, err)
	}
}

func (r *Roster) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type OpenedRoom struct {
	RoomId string
	Host   protocol.MemberId
	Guest  protocol.MemberId
}

type RoomView struct {
	mu      sync.Mutex
	open    *OpenedRoom
	onClose func()
	opened  []OpenedRoom
	closes  int
	rosters [][]protocol.NpcSnapshot
}

func (v *RoomView) Open(roomId string, hostMember, guestMember protocol.MemberId, onClose func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	room := OpenedRoom{roomId, hostMember, guestMember}
	v.open = &room
	v.onClose = onClose
	v.opened = append(v.opened, room)
}

func (v *RoomView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.open != nil {
		v.closes++
	}
	v.open = nil
	v.onClose = nil
}

func (v *RoomView) ShowRoster(npcs []protocol.NpcSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rosters = append(v.rosters, append([]protocol.NpcSnapshot(nil), npcs...))
}

// Dismiss simulates the local user closing the room view.
func (v *RoomView) Dismiss() {
	v.mu.Lock()
	onClose := v.onClose
	v.open = nil
	v.onClose = nil
	v.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

func (v *RoomView) Current() (OpenedRoom, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.open == nil {
		return OpenedRoom{}, false
	}
	return *v.open, true
}

func (v *RoomView) Opened() []OpenedRoom {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]OpenedRoom(nil), v.opened...)
}

func (v *RoomView) Closes() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closes
}

func (v *RoomView) Rosters() [][]protocol.NpcSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]protocol.NpcSnapshot(nil), v.rosters...)
}

// Peer bundles a full set of fakes for one side of a session.
type Peer struct {
	Local     *Participant
	Directory *Directory
	Activity  *ActivityHost
	Score     *Scoreboard
	Decisions *Decisions
	Notices   *Notifier
	Roster    *Roster
	Room      *RoomView
}

func NewPeer(local *Participant, others ...*Participant) *Peer {
	return &Peer{
		Local:     local,
		Directory: NewDirectory(local, others...),
		Activity:  NewActivityHost(),
		Score:     &Scoreboard{},
		Decisions: &Decisions{Answer: Accept},
		Notices:   &Notifier{},
		Roster:    &Roster{},
		Room:      &RoomView{},
	}
}

func (p *Peer) Host() host.Host {
	return host.Host{
		Directory: p.Directory,
		Activity:  p.Activity,
		Score:     p.Score,
		Decisions: p.Decisions,
		Notices:   p.Notices,
		Roster:    p.Roster,
		Room:      p.Room,
	}
}

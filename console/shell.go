package console

import (
	"bufio"
	"club-link/catalog"
	"club-link/negotiation"
	"club-link/protocol"
	"club-link/room"
	"club-link/session"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Actions is the part of a session the shell drives.
type Actions interface {
	RequestActivity(activityId string, opponent protocol.MemberId) (negotiation.Outcome, error)
	LaunchSolo(activityId string) error
	VisitRoom(roomId string) error
	InviteToRoom(roomId string, opponent protocol.MemberId) (room.Outcome, error)
	ScoreChanged()
	Snapshot() (session.Snapshot, error)
}

var errUsage = errors.New("usage")

const helpText = `Commands:
  activities                 list activities
  rooms                      list rooms
  members                    list chat room members
  online | offline <member>  mark a member as present or gone
  play <activity> [member]   start an activity, alone or with a member
  visit <room>               go to a room alone
  bring <room> <member>      take a member along to a room
  accept | decline           answer the oldest invitation
  score <left> <right>       set the score of the running match
  leave                      leave the shared room
  return                     end the current activity
  status                     show pending invitations, match and room
  quit                       exit`

type Shell struct {
	console *Console
	actions Actions
	catalog *catalog.Catalog
}

func NewShell(c *Console, actions Actions, cat *catalog.Catalog) *Shell {
	return &Shell{console: c, actions: actions, catalog: cat}
}

// Run reads commands from in until it is exhausted, "quit" is entered or ctx ends.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if quit := s.Execute(line); quit {
				return nil
			}
		}
	}
}

// Execute runs one command line and reports whether the shell should stop.
func (s *Shell) Execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "help", "?":
		s.console.printLocked(helpText)
	case "quit", "exit":
		return true
	case "activities":
		s.listActivities()
	case "rooms":
		s.listRooms()
	case "members":
		s.listMembers()
	case "online", "offline":
		err = s.presence(args, cmd == "online")
	case "play":
		err = s.play(args)
	case "visit":
		err = s.visit(args)
	case "bring":
		err = s.bring(args)
	case "accept", "decline":
		if !s.console.answer(cmd == "accept") {
			s.console.printLocked("! Nothing to answer.")
		}
	case "score":
		err = s.score(args)
	case "leave":
		if !s.console.leaveRoom() {
			s.console.printLocked("! You are not in a shared room.")
		}
	case "return":
		err = s.console.finishActivity()
	case "status":
		err = s.status()
	default:
		s.console.printLocked("! Unknown command %q, type 'help'.", cmd)
	}

	if err != nil {
		s.console.printLocked("! %v", err)
	}
	return false
}

func (s *Shell) play(args []string) error {
	switch len(args) {
	case 1:
		return s.actions.LaunchSolo(args[0])
	case 2:
		member, err := parseMember(args[1])
		if err != nil {
			return err
		}
		outcome, err := s.actions.RequestActivity(args[0], member)
		if err != nil {
			return err
		}
		if outcome == negotiation.InviteSent {
			s.console.printLocked("> Waiting for an answer.")
		}
		return nil
	default:
		return fmt.Errorf("%w: play <activity> [member]", errUsage)
	}
}

func (s *Shell) visit(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: visit <room>", errUsage)
	}
	return s.actions.VisitRoom(args[0])
}

func (s *Shell) bring(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: bring <room> <member>", errUsage)
	}
	member, err := parseMember(args[1])
	if err != nil {
		return err
	}
	_, err = s.actions.InviteToRoom(args[0], member)
	return err
}

func (s *Shell) presence(args []string, online bool) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: online|offline <member>", errUsage)
	}
	member, err := parseMember(args[0])
	if err != nil {
		return err
	}
	if !s.console.SetOnline(member, online) {
		return fmt.Errorf("member %d is not a remote chat room member", member)
	}
	return nil
}

func (s *Shell) score(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: score <left> <right>", errUsage)
	}
	left, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("left score: %w", err)
	}
	right, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("right score: %w", err)
	}
	s.console.play(left, right)
	s.actions.ScoreChanged()
	return nil
}

func (s *Shell) status() error {
	snap, err := s.actions.Snapshot()
	if err != nil {
		return err
	}
	s.console.printLocked("> Pending invitations: %d activity, %d room.", snap.PendingInvites, snap.PendingRoomInvites)
	if snap.Match != nil {
		s.console.printLocked("> Match %s (%s) against %s, %d - %d.",
			snap.Match.MatchId, snap.Match.ActivityId, s.console.displayName(snap.Match.Opponent),
			snap.Match.LastLeft, snap.Match.LastRight)
	}
	if snap.Room != nil {
		s.console.printLocked("> In %s hosted by %s.", snap.Room.RoomId, s.console.displayName(snap.Room.Host))
	}
	for name, state := range snap.Hooks {
		s.console.printLocked("> Hook %s: %s.", name, state)
	}
	return nil
}

func (s *Shell) listActivities() {
	for _, def := range s.catalog.Activities() {
		suffix := ""
		if def.RequiresOpponent {
			suffix = " (needs an opponent)"
		}
		s.console.printLocked("  %-14s %s%s", def.Id, def.DisplayName(), suffix)
	}
}

func (s *Shell) listRooms() {
	for _, def := range s.catalog.Rooms() {
		suffix := ""
		if def.IsSimulatedShared() {
			suffix = " (shared)"
		}
		s.console.printLocked("  %-22s %s%s", def.Id, def.Name, suffix)
	}
}

func (s *Shell) listMembers() {
	for _, m := range s.console.memberList() {
		var tags []string
		if m.local {
			tags = append(tags, "you")
		} else if !m.Online {
			tags = append(tags, "offline")
		}
		if m.Owned {
			tags = append(tags, "owned")
		}
		line := fmt.Sprintf("  %-6d %s", m.Id, s.console.displayName(m.Id))
		if len(tags) > 0 {
			line += " [" + strings.Join(tags, ", ") + "]"
		}
		s.console.printLocked("%s", line)
	}
}

func parseMember(raw string) (protocol.MemberId, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid member number %q", raw)
	}
	return id, nil
}

package relay

import (
	"club-link/protocol"
	"club-link/transport"
	"sync"
	"time"
)

type subscriber struct {
	member    protocol.MemberId
	send      chan transport.Frame
	closeOnce sync.Once
}

func newSubscriber(member protocol.MemberId, buffer int) *subscriber {
	return &subscriber{
		member: member,
		send:   make(chan transport.Frame, buffer),
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

// chatRoom routes frames between the members of one room. Frames for members without a
// live connection wait in a bounded mailbox; the oldest frame is dropped on overflow.
// Only deliver and register send on a subscriber, both under mu.
type chatRoom struct {
	name        string
	mailboxSize int

	mu         sync.Mutex
	members    map[protocol.MemberId]*subscriber
	mailboxes  map[protocol.MemberId][]transport.Frame
	lastActive time.Time
}

func newChatRoom(name string, mailboxSize int) *chatRoom {
	return &chatRoom{
		name:        name,
		mailboxSize: mailboxSize,
		members:     make(map[protocol.MemberId]*subscriber),
		mailboxes:   make(map[protocol.MemberId][]transport.Frame),
		lastActive:  time.Now(),
	}
}

// register connects member, replacing any older connection of the same member, and
// flushes its mailbox.
func (r *chatRoom) register(member protocol.MemberId) *subscriber {
	sub := newSubscriber(member, r.mailboxSize)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = time.Now()

	if previous, ok := r.members[member]; ok {
		previous.close()
	}
	r.members[member] = sub

	pending := r.mailboxes[member]
	delete(r.mailboxes, member)
	for _, frame := range pending {
		sub.send <- frame
	}
	return sub
}

func (r *chatRoom) unregister(sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = time.Now()

	if current, ok := r.members[sub.member]; ok && current == sub {
		delete(r.members, sub.member)
	}
	sub.close()
}

func (r *chatRoom) isMember(member protocol.MemberId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[member]
	return ok
}

// deliver reports whether the frame went straight to a live connection. A slow live
// connection loses its oldest queued frame, like the mailbox does.
func (r *chatRoom) deliver(frame transport.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = time.Now()

	if sub, ok := r.members[frame.Target]; ok {
		for {
			select {
			case sub.send <- frame:
				return true
			default:
			}
			select {
			case <-sub.send:
			default:
			}
		}
	}

	mailbox := append(r.mailboxes[frame.Target], frame)
	if len(mailbox) > r.mailboxSize {
		mailbox = mailbox[len(mailbox)-r.mailboxSize:]
	}
	r.mailboxes[frame.Target] = mailbox
	return false
}

func (r *chatRoom) idleSince() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive, len(r.members) == 0
}

func (r *chatRoom) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for member, sub := range r.members {
		sub.close()
		delete(r.members, member)
	}
}

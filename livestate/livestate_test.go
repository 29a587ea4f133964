package livestate

import (
	"club-link/host/hosttest"
	"club-link/protocol"
	"club-link/registry"
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type sent struct {
	target protocol.MemberId
	msg    protocol.Message
}

type recordingSender struct {
	messages []sent
}

func (r *recordingSender) Send(_ context.Context, target protocol.MemberId, msg protocol.Message) {
	r.messages = append(r.messages, sent{target, msg})
}

// echoBoard calls back into the relay on every write, like a host tick hook would.
type echoBoard struct {
	*hosttest.Scoreboard
	relay *Relay
}

func (b *echoBoard) SetPoints(left, right int) {
	b.Scoreboard.SetPoints(left, right)
	b.relay.Poll()
}

type fixture struct {
	relay  *Relay
	reg    *registry.Registry
	board  *hosttest.Scoreboard
	sender *recordingSender
	bob    *hosttest.Participant
}

func newFixture(t *testing.T, localId protocol.MemberId) *fixture {
	t.Helper()
	local := &hosttest.Participant{Id: localId}
	bob := &hosttest.Participant{Id: 2, Online: true}
	dir := hosttest.NewDirectory(local, bob)
	reg := registry.New(0, 0)
	board := &hosttest.Scoreboard{}
	sender := &recordingSender{}
	return &fixture{
		relay:  New(context.Background(), reg, dir, board, sender),
		reg:    reg,
		board:  board,
		sender: sender,
		bob:    bob,
	}
}

func TestStartMatchSeatsLocalLeft(t *testing.T) {
	f := newFixture(t, 1)
	f.board.Play(2, 2)

	require.NoError(t, f.relay.StartMatch("Tennis", "m1", f.bob))

	left, right := f.board.Seats()
	assert.Equal(t, int64(1), left)
	assert.Equal(t, int64(2), right)

	match, ok := f.reg.Match()
	require.True(t, ok)
	assert.Equal(t, "m1", match.MatchId)
	assert.Equal(t, 2, match.LastLeft, "last known tuple is seeded from the board")
}

func TestPollSendsOnlyChanges(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.relay.StartMatch("Tennis", "m1", f.bob))

	f.relay.Poll()
	assert.Empty(t, f.sender.messages, "unchanged board sends nothing")

	f.board.Play(3, 1)
	f.relay.Poll()
	f.relay.Poll()

	require.Len(t, f.sender.messages, 1)
	assert.Equal(t, int64(2), f.sender.messages[0].target)
	assert.Equal(t, protocol.NewTennisScoreMessage("Tennis", "m1", 1, 2, 3, 1), f.sender.messages[0].msg)
}

func TestPollWithoutMatchIsNoop(t *testing.T) {
	f := newFixture(t, 1)
	f.board.Play(1, 0)
	f.relay.Poll()
	assert.Empty(t, f.sender.messages)
}

func TestApplyRemapsSeats(t *testing.T) {
	f := newFixture(t, 2)
	alice := &hosttest.Participant{Id: 1, Online: true}
	require.NoError(t, f.relay.StartMatch("Tennis", "m1", alice))

	// Alice sees herself left with 3 points; for us she sits right.
	f.relay.Apply(1, protocol.NewTennisScoreMessage("Tennis", "m1", 1, 2, 3, 1))

	left, right := f.board.Points()
	assert.Equal(t, 1, left)
	assert.Equal(t, 3, right)
	assert.Equal(t, 1, f.board.Writes())
}

func TestApplyKeepsSeatsWhenLocalIsLeftOrAbsent(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.relay.StartMatch("Tennis", "m1", f.bob))

	f.relay.Apply(2, protocol.NewTennisScoreMessage("Tennis", "m1", 1, 2, 4, 0))
	left, right := f.board.Points()
	assert.Equal(t, []int{4, 0}, []int{left, right})

	f.relay.Apply(2, protocol.NewTennisScoreMessage("Tennis", "m1", 7, 8, 5, 6))
	left, right = f.board.Points()
	assert.Equal(t, []int{5, 6}, []int{left, right})
}

func TestApplyIgnoresForeignMatchAndSender(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.relay.StartMatch("Tennis", "m1", f.bob))

	f.relay.Apply(2, protocol.NewTennisScoreMessage("Tennis", "m2", 1, 2, 9, 9))
	f.relay.Apply(3, protocol.NewTennisScoreMessage("Tennis", "m1", 1, 2, 9, 9))

	assert.Equal(t, 0, f.board.Writes())
}

func TestApplyNeverEchoes(t *testing.T) {
	local := &hosttest.Participant{Id: 1}
	bob := &hosttest.Participant{Id: 2, Online: true}
	dir := hosttest.NewDirectory(local, bob)
	reg := registry.New(0, 0)
	sender := &recordingSender{}
	board := &echoBoard{Scoreboard: &hosttest.Scoreboard{}}
	relay := New(context.Background(), reg, dir, board, sender)
	board.relay = relay

	require.NoError(t, relay.StartMatch("Tennis", "m1", bob))
	relay.Apply(2, protocol.NewTennisScoreMessage("Tennis", "m1", 2, 1, 0, 5))
	relay.Poll()

	assert.Empty(t, sender.messages, "a remote update must not be transmitted back")
}

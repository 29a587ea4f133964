package negotiation

import (
	"club-link/catalog"
	"club-link/failure"
	"club-link/host"
	"club-link/host/hosttest"
	"club-link/idgen"
	"club-link/livestate"
	"club-link/protocol"
	"club-link/registry"
	"context"
	"errors"
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

func (r *recordingSender) ofKind(kind protocol.Kind) []protocol.Message {
	var out []protocol.Message
	for _, s := range r.messages {
		if s.msg.GetKind() == kind {
			out = append(out, s.msg)
		}
	}
	return out
}

type fixture struct {
	engine *Engine
	peer   *hosttest.Peer
	reg    *registry.Registry
	sender *recordingSender
	bob    *hosttest.Participant
	carol  *hosttest.Participant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	alice := &hosttest.Participant{Id: 1, PlayerName: "Alice"}
	bob := &hosttest.Participant{Id: 2, PlayerName: "Bob", Online: true}
	carol := &hosttest.Participant{Id: 3, PlayerName: "Carol", Online: true, OwnedByLocal: true}
	peer := hosttest.NewPeer(alice, bob, carol)

	reg := registry.New(0, 0)
	sender := &recordingSender{}
	ctx := context.Background()
	relay := livestate.New(ctx, reg, peer.Directory, peer.Score, sender)
	ids := idgen.New(func() protocol.MemberId { return host.LocalMemberId(peer.Directory) })
	inline := func(fn func()) { fn() }

	return &fixture{
		engine: New(ctx, cat, reg, peer.Host(), ids, sender, relay, inline),
		peer:   peer,
		reg:    reg,
		sender: sender,
		bob:    bob,
		carol:  carol,
	}
}

func TestLocalActivityLaunchesWithoutMessage(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.engine.RequestActivity("Chess", 2)
	require.NoError(t, err)
	assert.Equal(t, Launched, outcome)
	assert.Empty(t, f.sender.messages, "no message for a local activity")
	assert.Equal(t, []hosttest.Launch{{ActivityId: "Chess", Difficulty: "0", ReturnHandler: host.ReturnHandlerName}}, f.peer.Activity.Launches())
}

func TestUnknownActivityIsLocalPreconditionFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.RequestActivity("Curling", 2)
	assert.ErrorIs(t, err, catalog.ErrUnknownActivity)
	kind, ok := failure.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, failure.LocalPreconditionFailure, kind)
	assert.Empty(t, f.sender.messages)
}

func TestMissingOrOfflineOpponent(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.RequestActivity("Tennis", 42)
	assert.ErrorIs(t, err, failure.ErrNoOpponent)

	f.bob.Online = false
	_, err = f.engine.RequestActivity("Tennis", 2)
	assert.ErrorIs(t, err, failure.ErrNoOpponent)

	assert.Empty(t, f.sender.messages)
	assert.Equal(t, 0, f.reg.PendingInvites())
}

func TestSelfTargetUsesSoloRules(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.engine.RequestActivity("MaidDrinks", 1)
	require.NoError(t, err)
	assert.Equal(t, Launched, outcome)

	_, err = f.engine.RequestActivity("Tennis", 1)
	assert.ErrorIs(t, err, ErrOpponentRequired)
	assert.Equal(t, []string{host.NoticeOpponentRequired}, f.peer.Notices.Notices())
	assert.Len(t, f.peer.Activity.Launches(), 1)
}

func TestLaunchSolo(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.LaunchSolo("HorseWalk"))
	assert.Equal(t, "Hurdle", f.peer.Activity.Launches()[0].Difficulty)

	assert.ErrorIs(t, f.engine.LaunchSolo("Tennis"), ErrOpponentRequired)
	assert.ErrorIs(t, f.engine.LaunchSolo("Nope"), catalog.ErrUnknownActivity)
}

func TestInvitePathWaitsForResponse(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.engine.RequestActivity("Tennis", 2)
	require.NoError(t, err)
	assert.Equal(t, InviteSent, outcome)
	assert.Empty(t, f.peer.Activity.Launches(), "nothing launches before the answer")
	assert.Equal(t, 1, f.reg.PendingInvites())
	assert.Equal(t, []string{"Invitation sent to Bob."}, f.peer.Notices.Notices())

	invites := f.sender.ofKind(protocol.KindInvite)
	require.Len(t, invites, 1)
	invite := invites[0].(*protocol.InviteMessage)
	assert.Equal(t, int64(1), invite.Initiator)
	assert.Equal(t, int64(2), invite.Target)
	assert.Equal(t, "Alice", invite.InitiatorName)
	assert.Regexp(t, `^1-match-\d+-[0-9a-f]+$`, invite.MatchId)
	assert.Regexp(t, `^1-\d+-[0-9a-f]+$`, invite.Id)
}

func TestAcceptedResponseLaunchesOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RequestActivity("Tennis", 2)
	require.NoError(t, err)
	invite := f.sender.ofKind(protocol.KindInvite)[0].(*protocol.InviteMessage)

	response := protocol.NewResponseMessage(invite.Id, "Tennis", true, "m1")
	f.engine.HandleResponse(2, response)
	f.engine.HandleResponse(2, response)

	assert.Len(t, f.peer.Activity.Launches(), 1, "a replayed response must not launch twice")
	assert.Equal(t, 0, f.reg.PendingInvites())

	match, ok := f.reg.Match()
	require.True(t, ok)
	assert.Equal(t, "m1", match.MatchId, "responder's match id is adopted")
}

func TestAcceptedResponseWithoutMatchIdKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RequestActivity("Tennis", 2)
	require.NoError(t, err)
	invite := f.sender.ofKind(protocol.KindInvite)[0].(*protocol.InviteMessage)

	f.engine.HandleResponse(2, protocol.NewResponseMessage(invite.Id, "Tennis", true, ""))

	match, ok := f.reg.Match()
	require.True(t, ok)
	assert.Equal(t, invite.MatchId, match.MatchId)
}

func TestDeclinedResponseNotifies(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RequestActivity("Tennis", 2)
	require.NoError(t, err)
	invite := f.sender.ofKind(protocol.KindInvite)[0].(*protocol.InviteMessage)

	f.engine.HandleResponse(2, protocol.NewResponseMessage(invite.Id, "Tennis", false, ""))

	assert.Empty(t, f.peer.Activity.Launches())
	assert.Contains(t, f.peer.Notices.Notices(), host.NoticeInviteDeclined)
	_, ok := f.reg.Match()
	assert.False(t, ok)
}

func TestResponseFromAnotherMemberIsIgnored(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RequestActivity("Tennis", 2)
	require.NoError(t, err)
	invite := f.sender.ofKind(protocol.KindInvite)[0].(*protocol.InviteMessage)

	f.engine.HandleResponse(3, protocol.NewResponseMessage(invite.Id, "Tennis", false, ""))

	assert.Equal(t, 1, f.reg.PendingInvites(), "invite stays pending for its opponent")
	assert.NotContains(t, f.peer.Notices.Notices(), host.NoticeInviteDeclined)

	f.engine.HandleResponse(2, protocol.NewResponseMessage(invite.Id, "Tennis", true, "m1"))
	assert.Len(t, f.peer.Activity.Launches(), 1)
	assert.Equal(t, 0, f.reg.PendingInvites())
}

func TestAcceptedResponseAfterOpponentLeftNotifies(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RequestActivity("Tennis", 2)
	require.NoError(t, err)
	invite := f.sender.ofKind(protocol.KindInvite)[0].(*protocol.InviteMessage)

	f.peer.Directory.Remove(2)
	f.engine.HandleResponse(2, protocol.NewResponseMessage(invite.Id, "Tennis", true, "m1"))

	assert.Empty(t, f.peer.Activity.Launches())
	assert.Contains(t, f.peer.Notices.Notices(), host.NoticeOpponentLeft)
	_, ok := f.reg.Match()
	assert.False(t, ok)
}

func TestUnknownResponseIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.engine.HandleResponse(2, protocol.NewResponseMessage("nope", "Tennis", true, "m1"))
	assert.Empty(t, f.peer.Activity.Launches())
	assert.Empty(t, f.peer.Notices.Notices())
}

func TestForcePathSkipsInvite(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.engine.RequestActivity("Tennis", 3)
	require.NoError(t, err)
	assert.Equal(t, Forced, outcome)
	assert.Equal(t, 0, f.reg.PendingInvites(), "force path creates no pending invite")
	assert.Len(t, f.peer.Activity.Launches(), 1)

	forces := f.sender.ofKind(protocol.KindForceStart)
	require.Len(t, forces, 1)
	force := forces[0].(*protocol.ForceStartMessage)

	match, ok := f.reg.Match()
	require.True(t, ok)
	assert.Equal(t, force.MatchId, match.MatchId)
	assert.Equal(t, int64(1), force.Initiator)
}

func TestInboundInviteAnsweredExactlyOnce(t *testing.T) {
	for _, accept := range []bool{true, false} {
		f := newFixture(t)
		f.peer.Decisions.Answer = hosttest.Hold

		f.engine.HandleInvite(2, protocol.NewInviteMessage("i1", "Tennis", 2, 1, "Bob", "m9"))
		assert.Equal(t, []string{"Bob wants to play Tennis. Accept?"}, f.peer.Decisions.Prompts())
		assert.Empty(t, f.sender.messages, "reply waits for the decision")

		require.True(t, f.peer.Decisions.Resolve(accept))

		responses := f.sender.ofKind(protocol.KindResponse)
		require.Len(t, responses, 1)
		response := responses[0].(*protocol.ResponseMessage)
		assert.Equal(t, accept, response.Accepted)
		assert.Equal(t, "i1", response.Id)
		assert.Equal(t, int64(2), f.sender.messages[0].target)

		if accept {
			assert.Equal(t, "m9", response.MatchId)
			match, ok := f.reg.Match()
			require.True(t, ok)
			assert.Equal(t, "m9", match.MatchId)
			assert.Len(t, f.peer.Activity.Launches(), 1)
		} else {
			assert.Empty(t, f.peer.Activity.Launches())
		}
	}
}

func TestInboundInviteContinuationsAreIdempotent(t *testing.T) {
	f := newFixture(t)

	var accept, decline func()
	f.engine.host.Decisions = decisionFunc(func(_ string, a, d func()) { accept, decline = a, d })

	f.engine.HandleInvite(2, protocol.NewInviteMessage("i1", "Chess", 2, 1, "Bob", ""))
	accept()
	decline()
	accept()

	assert.Len(t, f.sender.ofKind(protocol.KindResponse), 1)
	assert.Len(t, f.peer.Activity.Launches(), 1)
}

func TestRepeatedInviteIsAnsweredOnce(t *testing.T) {
	f := newFixture(t)
	invite := protocol.NewInviteMessage("i1", "Tennis", 2, 1, "Bob", "m9")

	f.engine.HandleInvite(2, invite)
	f.engine.HandleInvite(2, invite)

	assert.Len(t, f.peer.Decisions.Prompts(), 1)
	assert.Len(t, f.sender.ofKind(protocol.KindResponse), 1)
	assert.Len(t, f.peer.Activity.Launches(), 1)
}

func TestRepeatedUnanswerableInviteIsDeclinedOnce(t *testing.T) {
	f := newFixture(t)
	invite := protocol.NewInviteMessage("i1", "Curling", 2, 1, "Bob", "")

	f.engine.HandleInvite(2, invite)
	f.engine.HandleInvite(2, invite)

	assert.Len(t, f.sender.ofKind(protocol.KindResponse), 1)
}

type decisionFunc func(message string, accept, decline func())

func (d decisionFunc) Prompt(message string, accept, decline func()) { d(message, accept, decline) }

func TestInboundInviteAutoDeclines(t *testing.T) {
	f := newFixture(t)

	f.engine.HandleInvite(2, protocol.NewInviteMessage("i1", "Curling", 2, 1, "Bob", ""))
	f.engine.HandleInvite(42, protocol.NewInviteMessage("i2", "Tennis", 42, 1, "Ghost", ""))

	assert.Empty(t, f.peer.Decisions.Prompts(), "no prompt for an invite that cannot be honored")
	responses := f.sender.ofKind(protocol.KindResponse)
	require.Len(t, responses, 2)
	for _, r := range responses {
		assert.False(t, r.(*protocol.ResponseMessage).Accepted)
	}
}

func TestInboundInviteForSomeoneElseIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.engine.HandleInvite(2, protocol.NewInviteMessage("i1", "Tennis", 2, 3, "Bob", ""))
	assert.Empty(t, f.sender.messages)
	assert.Empty(t, f.peer.Decisions.Prompts())
}

func TestForceStartFromOwner(t *testing.T) {
	f := newFixture(t)

	f.engine.HandleForceStart(2, protocol.NewForceStartMessage("Tennis", 2, "m5"))

	assert.Len(t, f.peer.Activity.Launches(), 1)
	match, ok := f.reg.Match()
	require.True(t, ok)
	assert.Equal(t, "m5", match.MatchId)
	assert.Equal(t, int64(2), match.Opponent)
}

func TestForceStartRejections(t *testing.T) {
	f := newFixture(t)

	f.engine.HandleForceStart(2, protocol.NewForceStartMessage("Chess", 2, "m1"))
	f.engine.HandleForceStart(2, protocol.NewForceStartMessage("Tennis", 3, "m1"))
	f.engine.HandleForceStart(42, protocol.NewForceStartMessage("Tennis", 42, "m1"))

	assert.Empty(t, f.peer.Activity.Launches())
}

func TestOtherLaunchEndsMatch(t *testing.T) {
	f := newFixture(t)
	f.engine.HandleForceStart(2, protocol.NewForceStartMessage("Tennis", 2, "m5"))

	require.NoError(t, f.engine.LaunchSolo("Chess"))

	_, ok := f.reg.Match()
	assert.False(t, ok, "launching another activity invalidates the match")
}

func TestLaunchFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.peer.Activity.LaunchErr = errors.New("screen busy")

	_, err := f.engine.RequestActivity("Chess", 2)
	assert.ErrorContains(t, err, "screen busy")
}

func TestHandleReturn(t *testing.T) {
	f := newFixture(t)

	f.engine.HandleReturn()
	assert.Equal(t, 0, f.peer.Activity.ChatViewShown(), "already in chat view")

	require.NoError(t, f.engine.LaunchSolo("Chess"))
	f.engine.HandleReturn()
	assert.Equal(t, 1, f.peer.Activity.ChatViewShown())
}

func TestCanShowActivities(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.engine.CanShowActivities(1), "self menu")
	assert.True(t, f.engine.CanShowActivities(2))
	assert.False(t, f.engine.CanShowActivities(42))

	f.bob.Unreachable = true
	assert.False(t, f.engine.CanShowActivities(2))

	f.peer.Directory.OutOfChat = true
	assert.False(t, f.engine.CanShowActivities(1))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "inviteSent", InviteSent.String())
	assert.Equal(t, "none", Outcome(0).String())
}

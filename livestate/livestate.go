// Package livestate mirrors the two-seat score of a head-to-head activity between both
// peers. Only absolute values travel, so a lost update is corrected by the next one.
package livestate

import (
	"club-link/applog"
	"club-link/host"
	"club-link/protocol"
	"club-link/registry"
	"club-link/transport"
	"context"
	"errors"
	"go.uber.org/zap"
)

var errLocalUnknown = errors.New("local member is not known yet")

type Relay struct {
	ctx       context.Context
	registry  *registry.Registry
	directory host.Directory
	board     host.Scoreboard
	sender    transport.Sender

	// applying is set while a remote tuple is written to the board, so a board hook
	// firing during the write cannot echo it back.
	applying bool
}

func New(
	ctx context.Context,
	reg *registry.Registry,
	directory host.Directory,
	board host.Scoreboard,
	sender transport.Sender,
) *Relay {
	return &Relay{
		ctx:       ctx,
		registry:  reg,
		directory: directory,
		board:     board,
		sender:    sender,
	}
}

// StartMatch seats the local player left and the opponent right, then tracks matchId as
// the active match. Any previous match is replaced.
func (r *Relay) StartMatch(activityId, matchId string, opponent host.Participant) error {
	local, ok := r.directory.Local()
	if !ok {
		r.registry.ClearMatch()
		return errLocalUnknown
	}

	if err := r.board.SeatPlayers(local, opponent); err != nil {
		r.registry.ClearMatch()
		return err
	}

	left, right := r.board.Points()
	r.registry.StartMatch(registry.MatchSyncState{
		MatchId:     matchId,
		ActivityId:  activityId,
		Opponent:    opponent.MemberId(),
		LeftMember:  local.MemberId(),
		RightMember: opponent.MemberId(),
		LastLeft:    left,
		LastRight:   right,
	})

	applog.Info("Match started",
		zap.String("matchId", matchId),
		zap.String("activityId", activityId),
		zap.Int64("opponent", opponent.MemberId()),
	)
	return nil
}

// Poll compares the board with the last known tuple and transmits it when it changed.
func (r *Relay) Poll() {
	if r.applying {
		return
	}
	match, ok := r.registry.Match()
	if !ok {
		return
	}

	left, right := r.board.Points()
	if left == match.LastLeft && right == match.LastRight {
		return
	}
	r.registry.RecordScore(left, right)

	ctx := applog.AddContextFields(r.ctx, zap.String("matchId", match.MatchId))
	r.sender.Send(ctx, match.Opponent, protocol.NewTennisScoreMessage(
		match.ActivityId,
		match.MatchId,
		match.LeftMember,
		match.RightMember,
		left,
		right,
	))
}

// Apply writes a remote tuple to the board, remapping seats to the local point of view.
// Updates for any other match, or from anyone but the opponent, are ignored.
func (r *Relay) Apply(sender protocol.MemberId, msg *protocol.TennisScoreMessage) {
	match, ok := r.registry.Match()
	if !ok || match.MatchId != msg.MatchId || match.Opponent != sender {
		applog.Debug("Ignoring score for inactive match",
			zap.String("matchId", msg.MatchId),
			zap.Int64("sender", sender),
		)
		return
	}

	left, right := msg.LeftPoints, msg.RightPoints
	if local := host.LocalMemberId(r.directory); local > 0 && msg.RightMember == local && msg.LeftMember != local {
		left, right = right, left
	}

	r.applying = true
	defer func() {
		r.applying = false
	}()

	r.board.SetPoints(left, right)
	r.registry.RecordScore(r.board.Points())
}

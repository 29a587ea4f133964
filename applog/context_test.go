package applog

import (
	"context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"sync/atomic"
	"testing"
)

func TestGetContextFieldsEmpty(t *testing.T) {
	assert.Nil(t, getContextFields(context.Background()), "expected no fields")
}

func TestMergeContextFieldsOverridesByKey(t *testing.T) {
	initial := []zap.Field{zap.String("inviteId", "a"), zap.String("roomId", "Private")}
	ctx := context.WithValue(context.Background(), logContextFieldKey{}, initial)

	merged := mergeContextFields(ctx, zap.String("matchId", "m1"))
	assert.Equal(t, []zap.Field{
		zap.String("matchId", "m1"),
		zap.String("inviteId", "a"),
		zap.String("roomId", "Private"),
	}, merged)

	// A repeated key replaces the older value instead of duplicating it.
	merged = mergeContextFields(ctx, zap.String("inviteId", "b"))
	assert.Equal(t, []zap.Field{
		zap.String("inviteId", "b"),
		zap.String("roomId", "Private"),
	}, merged)
}

func TestFromContextCarriesPeerField(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	setLogger(zap.New(core))
	atomic.StoreInt32(&acceptingLogs, 1)

	ctx := WithPeer(context.Background(), 77)
	ctx = AddContextFields(ctx, zap.String("matchId", "m1"))
	FromContext(ctx).Info("score relayed")

	entries := observed.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, int64(77), fields["remoteMemberId"])
		assert.Equal(t, "m1", fields["matchId"])
	}
}

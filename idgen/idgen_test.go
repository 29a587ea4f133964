package idgen

import (
	"club-link/protocol"
	"github.com/stretchr/testify/assert"
	"regexp"
	"testing"
	"time"
)

func TestInviteIdFormat(t *testing.T) {
	g := New(func() protocol.MemberId { return 1234 })
	g.now = func() time.Time { return time.UnixMilli(1700000000000) }
	g.rand = func() string { return "abc" }

	assert.Equal(t, "1234-1700000000000-abc", g.InviteId())
	assert.Equal(t, "1234-match-1700000000000-abc", g.MatchId())
}

func TestUnknownLocalFallsBackToZero(t *testing.T) {
	g := New(func() protocol.MemberId { return protocol.UnknownMember })
	assert.Regexp(t, regexp.MustCompile(`^0-\d+-[0-9a-f]{32}$`), g.InviteId())

	g = New(nil)
	assert.Regexp(t, regexp.MustCompile(`^0-match-\d+-[0-9a-f]{32}$`), g.MatchId())
}

func TestIdsAreUniqueWithinSameMillisecond(t *testing.T) {
	g := New(func() protocol.MemberId { return 7 })
	fixed := time.UnixMilli(1700000000000)
	g.now = func() time.Time { return fixed }

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := g.InviteId()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate invite id %s", id)
		seen[id] = struct{}{}
	}
}

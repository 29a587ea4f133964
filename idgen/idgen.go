// Package idgen produces correlation identifiers for invitations and matches.
//
// Ids are scoped to the local member and a millisecond timestamp, with a random
// suffix so two negotiations started in the same millisecond never collide.
package idgen

import (
	"club-link/protocol"
	"fmt"
	"github.com/google/uuid"
	"strings"
	"time"
)

type Generator struct {
	local func() protocol.MemberId
	now   func() time.Time
	rand  func() string
}

// New returns a Generator that resolves the local member lazily, since the host may not
// know its own identity until after login.
func New(local func() protocol.MemberId) *Generator {
	return &Generator{
		local: local,
		now:   time.Now,
		rand:  randomSuffix,
	}
}

func (g *Generator) InviteId() string {
	return fmt.Sprintf("%d-%d-%s", g.localOrZero(), g.now().UnixMilli(), g.rand())
}

func (g *Generator) MatchId() string {
	return fmt.Sprintf("%d-match-%d-%s", g.localOrZero(), g.now().UnixMilli(), g.rand())
}

func (g *Generator) localOrZero() protocol.MemberId {
	if g.local == nil {
		return 0
	}
	if id := g.local(); id > 0 {
		return id
	}
	return 0
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

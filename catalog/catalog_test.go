package catalog

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
)

type capabilities struct {
	cannotWalk, cannotTalk, cannotChange, restrained bool
}

func (c capabilities) CanWalk() bool             { return !c.cannotWalk }
func (c capabilities) CanTalk() bool             { return !c.cannotTalk }
func (c capabilities) CanChangeOwnClothes() bool { return !c.cannotChange }
func (c capabilities) IsRestrained() bool        { return c.restrained }

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Len(t, c.Activities(), 10)
	assert.Len(t, c.Rooms(), 18)

	tennis, ok := c.Activity("Tennis")
	require.True(t, ok)
	assert.True(t, tennis.RequiresOpponent)
	assert.Equal(t, "1", tennis.Difficulty)

	chess, ok := c.Activity("Chess")
	require.True(t, ok)
	assert.False(t, chess.RequiresOpponent, "chess is a local launch")

	for _, a := range c.Activities() {
		if a.Id != "Tennis" {
			assert.False(t, a.RequiresOpponent, "%s must not require an opponent", a.Id)
		}
	}

	private, ok := c.Room("Private")
	require.True(t, ok)
	assert.True(t, private.IsSimulatedShared())
	assert.Equal(t, "your Private Room", private.Name)

	cafe, ok := c.Room("Cafe")
	require.True(t, ok)
	assert.Equal(t, LaunchModeNative, cafe.Mode)
	assert.Equal(t, "Room", cafe.Module)
	assert.Equal(t, "Cafe", cafe.Screen)

	_, ok = c.Room("Moon")
	assert.False(t, ok)
}

func TestRoomRequirements(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	cafe, _ := c.Room("Cafe")
	poker, _ := c.Room("Poker")

	assert.True(t, cafe.Meets(capabilities{}))
	assert.False(t, cafe.Meets(capabilities{cannotWalk: true}), "can-walk is required by default")
	assert.True(t, cafe.Meets(capabilities{cannotTalk: true, restrained: true}), "other checks are opt-in")
	assert.False(t, cafe.Meets(nil))

	assert.True(t, poker.Meets(capabilities{}))
	assert.False(t, poker.Meets(capabilities{cannotTalk: true}))
	assert.False(t, poker.Meets(capabilities{cannotChange: true}))
	assert.False(t, poker.Meets(capabilities{restrained: true}))
}

func TestCanWalkRequirementCanBeDisabled(t *testing.T) {
	c, err := Parse([]byte(`
[[room]]
id = "Garden"
requires_can_walk = false
`))
	require.NoError(t, err)

	garden, ok := c.Room("Garden")
	require.True(t, ok)
	assert.True(t, garden.Meets(capabilities{cannotWalk: true}))
	assert.Equal(t, "Garden", garden.Name, "name falls back to id")
	assert.Equal(t, LaunchModeNative, garden.Mode)
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	_, err := Parse([]byte("[[activity]]\nid = \"A\"\n[[activity]]\nid = \"A\"\n"))
	assert.ErrorIs(t, err, errDuplicateDefinition)

	_, err = Parse([]byte("[[room]]\nname = \"nowhere\"\n"))
	assert.ErrorIs(t, err, errEmptyDefinitionId)

	_, err = Parse([]byte("[[room]]\nid = \"X\"\nmode = \"teleport\"\n"))
	assert.ErrorContains(t, err, "unknown launch mode")

	_, err = Parse([]byte("not = [toml"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[activity]]\nid = \"Darts\"\n"), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)

	darts, ok := c.Activity("Darts")
	require.True(t, ok)
	assert.Equal(t, "0", darts.Difficulty, "difficulty defaults to 0")
	assert.Equal(t, "Darts", darts.DisplayName())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

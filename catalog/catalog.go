// Package catalog holds the immutable activity and room definitions that both peers
// are expected to share. Definitions are loaded once from TOML; the built-in set is
// embedded in the binary.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	toml "github.com/pelletier/go-toml/v2"
	"os"
)

type LaunchMode = string

const (
	LaunchModeNative          LaunchMode = "native"
	LaunchModeSimulatedShared LaunchMode = "simulatedShared"
)

var (
	ErrUnknownActivity     = errors.New("unknown activity")
	ErrUnknownRoom         = errors.New("unknown room")
	ErrRequirementsNotMet  = errors.New("room requirements not met")
	errEmptyDefinitionId   = errors.New("definition id is empty")
	errDuplicateDefinition = errors.New("duplicate definition id")
)

//go:embed default.toml
var defaultCatalog []byte

type ActivityDefinition struct {
	Id               string `toml:"id"`
	Name             string `toml:"name"`
	Difficulty       string `toml:"difficulty"`
	RequiresOpponent bool   `toml:"requires_opponent"`
}

// DisplayName falls back to the id when the catalogue does not name the activity.
func (a ActivityDefinition) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Id
}

type RoomDefinition struct {
	Id     string     `toml:"id"`
	Name   string     `toml:"name"`
	Module string     `toml:"module"`
	Screen string     `toml:"screen"`
	Mode   LaunchMode `toml:"mode"`

	// RequiresCanWalk is on unless explicitly disabled.
	RequiresCanWalk       *bool `toml:"requires_can_walk"`
	RequiresCanChange     bool  `toml:"requires_can_change"`
	RequiresCanTalk       bool  `toml:"requires_can_talk"`
	RequiresNotRestrained bool  `toml:"requires_not_restrained"`
}

func (r RoomDefinition) IsSimulatedShared() bool {
	return r.Mode == LaunchModeSimulatedShared
}

// Capabilities are the host's side-effect free checks on a participant.
type Capabilities interface {
	CanWalk() bool
	CanTalk() bool
	CanChangeOwnClothes() bool
	IsRestrained() bool
}

// Meets evaluates the room's requirement predicates against the acting participant.
// A nil actor never meets them.
func (r RoomDefinition) Meets(actor Capabilities) bool {
	if actor == nil {
		return false
	}
	requiresCanWalk := r.RequiresCanWalk == nil || *r.RequiresCanWalk
	if requiresCanWalk && !actor.CanWalk() {
		return false
	}
	if r.RequiresCanChange && !actor.CanChangeOwnClothes() {
		return false
	}
	if r.RequiresCanTalk && !actor.CanTalk() {
		return false
	}
	if r.RequiresNotRestrained && actor.IsRestrained() {
		return false
	}
	return true
}

type file struct {
	Activities []ActivityDefinition `toml:"activity"`
	Rooms      []RoomDefinition     `toml:"room"`
}

type Catalog struct {
	activities     []ActivityDefinition
	activitiesById map[string]ActivityDefinition
	rooms          []RoomDefinition
	roomsById      map[string]RoomDefinition
}

func Default() (*Catalog, error) {
	c, err := Parse(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("built-in catalog: %w", err)
	}
	return c, nil
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		activitiesById: make(map[string]ActivityDefinition, len(f.Activities)),
		roomsById:      make(map[string]RoomDefinition, len(f.Rooms)),
	}

	for _, a := range f.Activities {
		if a.Id == "" {
			return nil, fmt.Errorf("activity: %w", errEmptyDefinitionId)
		}
		if _, exists := c.activitiesById[a.Id]; exists {
			return nil, fmt.Errorf("activity %q: %w", a.Id, errDuplicateDefinition)
		}
		if a.Difficulty == "" {
			a.Difficulty = "0"
		}
		c.activities = append(c.activities, a)
		c.activitiesById[a.Id] = a
	}

	for _, r := range f.Rooms {
		if r.Id == "" {
			return nil, fmt.Errorf("room: %w", errEmptyDefinitionId)
		}
		if _, exists := c.roomsById[r.Id]; exists {
			return nil, fmt.Errorf("room %q: %w", r.Id, errDuplicateDefinition)
		}
		switch r.Mode {
		case "":
			r.Mode = LaunchModeNative
		case LaunchModeNative, LaunchModeSimulatedShared:
		default:
			return nil, fmt.Errorf("room %q: unknown launch mode %q", r.Id, r.Mode)
		}
		if r.Name == "" {
			r.Name = r.Id
		}
		c.rooms = append(c.rooms, r)
		c.roomsById[r.Id] = r
	}

	return c, nil
}

func (c *Catalog) Activity(id string) (ActivityDefinition, bool) {
	a, ok := c.activitiesById[id]
	return a, ok
}

func (c *Catalog) Room(id string) (RoomDefinition, bool) {
	r, ok := c.roomsById[id]
	return r, ok
}

// Activities returns definitions in catalogue order.
func (c *Catalog) Activities() []ActivityDefinition {
	return append([]ActivityDefinition(nil), c.activities...)
}

// Rooms returns definitions in catalogue order.
func (c *Catalog) Rooms() []RoomDefinition {
	return append([]RoomDefinition(nil), c.rooms...)
}

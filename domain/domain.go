// Package domain defines the graph and vector entities that the core
// operates on: the canonical-name node types from spec §3 (Character,
// Organization, Location, Event, MajorEvent, Chunk), the typed edge
// taxonomy, and the fixed MajorEvent taxonomy used by the event and
// journey tools.
package domain

// EventType is a MajorEvent's place in the fixed narrative taxonomy.
type EventType string

const (
	EventSacrifice     EventType = "sacrifice"
	EventTransformation EventType = "transformation"
	EventAcquisition   EventType = "acquisition"
	EventLoss          EventType = "loss"
	EventEncounter     EventType = "encounter"
	EventConflict      EventType = "conflict"
	EventRevelation    EventType = "revelation"
	EventMilestone     EventType = "milestone"
)

// AllEventTypes is the closed taxonomy in declaration order.
var AllEventTypes = []EventType{
	EventSacrifice, EventTransformation, EventAcquisition, EventLoss,
	EventEncounter, EventConflict, EventRevelation, EventMilestone,
}

// Valid reports whether t is one of the fixed taxonomy members. An empty
// EventType is considered valid (it means "no filter").
func (t EventType) Valid() bool {
	if t == "" {
		return true
	}
	for _, v := range AllEventTypes {
		if v == t {
			return true
		}
	}
	return false
}

// TaxonomyHint renders the valid-option-set text surfaced to the LLM when
// an unknown event type is supplied (spec §4.3, §7 "Tool-argument-invalid").
func TaxonomyHint(got string) string {
	s := "unknown event type \"" + got + "\"; valid types are: "
	for i, t := range AllEventTypes {
		if i > 0 {
			s += ", "
		}
		s += string(t)
	}
	return s
}

// EdgeRole is a Character's participation role in an EXPERIENCES edge.
type EdgeRole string

const (
	RoleSubject EdgeRole = "subject"
	RoleObject  EdgeRole = "object"
	RoleWitness EdgeRole = "witness"
)

// EdgeType is the closed set of directed relation types in the KG.
type EdgeType string

const (
	EdgeFriendOf       EdgeType = "FRIEND_OF"
	EdgeEnemyOf        EdgeType = "ENEMY_OF"
	EdgePartnerOf      EdgeType = "PARTNER_OF"
	EdgeFamilyOf       EdgeType = "FAMILY_OF"
	EdgeMemberOf       EdgeType = "MEMBER_OF"
	EdgeLeaderOf       EdgeType = "LEADER_OF"
	EdgeParticipatedIn EdgeType = "PARTICIPATED_IN"
	EdgeExperiences    EdgeType = "EXPERIENCES"
	EdgeMentionedIn    EdgeType = "MENTIONED_IN"
	EdgeInteractsWith  EdgeType = "INTERACTS_WITH"
)

// Temporal reports whether edges of this type carry a chapter and so can
// have multiple instances between the same pair (spec §3 invariants).
// INTERACTS_WITH is the last-resort catch-all and is not temporal.
func (e EdgeType) Temporal() bool {
	return e != EdgeInteractsWith
}

// Character is a person or organization-adjacent actor node.
type Character struct {
	CanonicalName       string
	Aliases             []string
	Title               string
	Region              string
	Tribe               string
	Description         string
	FirstAppearanceTask string
	FirstAppearanceCh   int
}

// Organization is a faction/group node.
type Organization struct {
	CanonicalName string
	Type          string
	Region        string
	Description   string
}

// Location is a place node; not further used by the core beyond graph
// traversal targets.
type Location struct {
	CanonicalName string
	Region        string
	Description   string
}

// Event is a generic quest/battle node, distinct from MajorEvent; not
// further used by the core.
type Event struct {
	CanonicalName string
	Description   string
}

// MajorEvent is a coarse-grained plot turning point, unique by the triple
// (Chapter, Type, PrimaryCharacter).
type MajorEvent struct {
	Name             string
	Chapter          int
	Type             EventType
	PrimaryCharacter string
	TaskID           string
	Summary          string
	Evidence         string
	Outcome          string
}

// Chunk is a piece of story text, referenced from both the graph store
// (for cross-store alignment) and the vector store.
type Chunk struct {
	ID           string
	TaskID       string
	Chapter      int
	EventOrdinal int
	Characters   []string
	Text         string
}

// Edge is a typed, directed relation between two canonical names.
type Edge struct {
	Type        EdgeType
	Source      string
	Target      string
	TargetType  string
	Chapter     *int
	TaskID      *string
	Role        EdgeRole
	Outcome     string
	Description string
}

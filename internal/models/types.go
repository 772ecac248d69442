package models

import "strings"

// MemoryType classifies what kind of knowledge a memory holds about the user.
type MemoryType string

const (
	MemoryTypeFact       MemoryType = "fact"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeEmotion    MemoryType = "emotion"
	MemoryTypeEvent      MemoryType = "event"
	MemoryTypeOpinion    MemoryType = "opinion"
)

var ValidMemoryTypes = map[MemoryType]bool{
	MemoryTypeFact:       true,
	MemoryTypePreference: true,
	MemoryTypeEmotion:    true,
	MemoryTypeEvent:      true,
	MemoryTypeOpinion:    true,
}

func (t MemoryType) IsValid() bool {
	return ValidMemoryTypes[t]
}

// ParseMemoryType maps free-form LLM output onto a known type, defaulting to fact.
func ParseMemoryType(s string) MemoryType {
	t := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	if t.IsValid() {
		return t
	}
	return MemoryTypeFact
}

// EntityType classifies something the user mentioned from their life.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypePlace        EntityType = "place"
	EntityTypeThing        EntityType = "thing"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeEvent        EntityType = "event"
)

var ValidEntityTypes = map[EntityType]bool{
	EntityTypePerson:       true,
	EntityTypePlace:        true,
	EntityTypeThing:        true,
	EntityTypeOrganization: true,
	EntityTypeEvent:        true,
}

func (t EntityType) IsValid() bool {
	return ValidEntityTypes[t]
}

// ParseEntityType maps free-form LLM output onto a known type, defaulting to thing.
func ParseEntityType(s string) EntityType {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if t.IsValid() {
		return t
	}
	return EntityTypeThing
}

// Role identifies who authored a session message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

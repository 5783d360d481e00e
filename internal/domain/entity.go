package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entity represents a dynamic entity instance whose properties follow the
// schema registered for its type.
type Entity struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewEntity creates a new entity with immutable pattern
func NewEntity(entityType string, properties map[string]any) Entity {
	now := time.Now()
	return Entity{
		ID:         uuid.New(),
		EntityType: entityType,
		Properties: copyProperties(properties),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WithProperty returns a new entity with an added/updated property
func (e Entity) WithProperty(key string, value any) Entity {
	newProperties := copyProperties(e.Properties)
	newProperties[key] = value

	return Entity{
		ID:         e.ID,
		EntityType: e.EntityType,
		Properties: newProperties,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  time.Now(),
	}
}

// WithProperties returns a new entity with replaced properties
func (e Entity) WithProperties(properties map[string]any) Entity {
	return Entity{
		ID:         e.ID,
		EntityType: e.EntityType,
		Properties: copyProperties(properties),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  time.Now(),
	}
}

// GetPropertiesAsJSONB returns the properties as JSONB for database storage
func (e *Entity) GetPropertiesAsJSONB() (json.RawMessage, error) {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	return json.Marshal(e.Properties)
}

// FromJSONBProperties creates a properties map from JSONB data
func FromJSONBProperties(propertiesJSON json.RawMessage) (map[string]any, error) {
	var properties map[string]any
	err := json.Unmarshal(propertiesJSON, &properties)
	return properties, err
}

// Property reads a possibly nested property by its path segments. Nested
// segments descend JSON objects; a missing segment yields (nil, false).
func (e Entity) Property(segments ...string) (any, bool) {
	var current any = e.Properties
	for _, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// copyProperties creates a copy of the properties map to ensure immutability
func copyProperties(properties map[string]any) map[string]any {
	newProperties := make(map[string]any, len(properties))
	for k, v := range properties {
		newProperties[k] = v
	}
	return newProperties
}

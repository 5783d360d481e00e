package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FieldType represents the type of a field in an entity schema
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeDate      FieldType = "date"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
	// FieldTypeEntityReference holds the id of an entity of another type.
	// ReferenceEntityType names that type so field catalogs can offer the
	// referenced schema's fields one hop away.
	FieldTypeEntityReference FieldType = "entity_reference"
)

// FieldDefinition represents a field definition in a schema
type FieldDefinition struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
	// ReferenceEntityType specifies the related entity type when Type is
	// FieldTypeEntityReference.
	ReferenceEntityType string `json:"referenceEntityType,omitempty"`
}

// EntitySchema represents a schema definition for entity types
type EntitySchema struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Fields      []FieldDefinition `json:"fields"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewEntitySchema creates a new entity schema with immutable pattern
func NewEntitySchema(name, description string, fields []FieldDefinition) EntitySchema {
	now := time.Now()
	return EntitySchema{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Fields:      copyFields(fields),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithField returns a new schema with an added/updated field
func (es EntitySchema) WithField(field FieldDefinition) EntitySchema {
	newFields := copyFields(es.Fields)

	found := false
	for i, existingField := range newFields {
		if existingField.Name == field.Name {
			newFields[i] = field
			found = true
			break
		}
	}
	if !found {
		newFields = append(newFields, field)
	}

	return EntitySchema{
		ID:          es.ID,
		Name:        es.Name,
		Description: es.Description,
		Fields:      newFields,
		CreatedAt:   es.CreatedAt,
		UpdatedAt:   time.Now(),
	}
}

// WithDefinition returns a new schema with replaced description and fields
func (es EntitySchema) WithDefinition(description string, fields []FieldDefinition) EntitySchema {
	return EntitySchema{
		ID:          es.ID,
		Name:        es.Name,
		Description: description,
		Fields:      copyFields(fields),
		CreatedAt:   es.CreatedAt,
		UpdatedAt:   time.Now(),
	}
}

// WithoutField returns a new schema without the specified field
func (es EntitySchema) WithoutField(name string) EntitySchema {
	newFields := make([]FieldDefinition, 0, len(es.Fields))
	for _, field := range es.Fields {
		if field.Name != name {
			newFields = append(newFields, field)
		}
	}

	return EntitySchema{
		ID:          es.ID,
		Name:        es.Name,
		Description: es.Description,
		Fields:      newFields,
		CreatedAt:   es.CreatedAt,
		UpdatedAt:   time.Now(),
	}
}

// Field looks up a field definition by name.
func (es EntitySchema) Field(name string) (FieldDefinition, bool) {
	for _, field := range es.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldDefinition{}, false
}

// GetFieldsAsJSONB returns the fields as JSONB for database storage
func (es EntitySchema) GetFieldsAsJSONB() (json.RawMessage, error) {
	return json.Marshal(es.Fields)
}

// FromJSONBFields creates field definitions from JSONB data
func FromJSONBFields(fieldsJSON json.RawMessage) ([]FieldDefinition, error) {
	var fields []FieldDefinition
	err := json.Unmarshal(fieldsJSON, &fields)
	return fields, err
}

// copyFields creates a deep copy of the fields slice to ensure immutability
func copyFields(fields []FieldDefinition) []FieldDefinition {
	if fields == nil {
		return nil
	}
	newFields := make([]FieldDefinition, len(fields))
	copy(newFields, fields)
	return newFields
}

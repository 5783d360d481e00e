package validator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JSONBValidator handles validation of JSONB properties against field definitions
type JSONBValidator struct{}

// NewJSONBValidator creates a new JSONB validator
func NewJSONBValidator() *JSONBValidator {
	return &JSONBValidator{}
}

// FieldDefinition represents a field definition for validation. Type uses
// the schema vocabulary: string, integer, float, boolean, date, timestamp,
// json, entity_reference.
type FieldDefinition struct {
	Type                string  `json:"type"`
	Required            bool    `json:"required"`
	Description         string  `json:"description,omitempty"`
	ReferenceEntityType *string `json:"referenceEntityType,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// ValidateProperties validates entity properties against field definitions
func (jv *JSONBValidator) ValidateProperties(properties map[string]any, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid: true,
		Errors:  []ValidationError{},
	}

	for fieldName, fieldDef := range fieldDefinitions {
		value, exists := properties[fieldName]

		if fieldDef.Required && (!exists || value == nil) {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("required field '%s' is missing", fieldName),
			})
			continue
		}

		// Skip validation for missing optional fields
		if !exists || value == nil {
			continue
		}

		if err := jv.validateFieldType(fieldName, value, fieldDef.Type); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: err.Error(),
				Value:   value,
			})
		}
	}

	// Check for extra properties not defined in schema
	for propertyName := range properties {
		if _, exists := fieldDefinitions[propertyName]; !exists {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   propertyName,
				Message: fmt.Sprintf("property '%s' is not defined in schema", propertyName),
				Value:   properties[propertyName],
			})
		}
	}

	return result
}

// validateFieldType validates the type of a field value
func (jv *JSONBValidator) validateFieldType(fieldName string, value any, expectedType string) error {
	switch strings.ToLower(strings.TrimSpace(expectedType)) {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
	case "integer":
		if !jv.isInteger(value) {
			return fmt.Errorf("field '%s' must be an integer, got %T", fieldName, value)
		}
	case "float":
		if !jv.isFloat(value) {
			return fmt.Errorf("field '%s' must be a float, got %T", fieldName, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' must be a boolean, got %T", fieldName, value)
		}
	case "date":
		switch v := value.(type) {
		case string:
			if _, err := time.Parse("2006-01-02", v); err != nil {
				return fmt.Errorf("field '%s' must be a valid date (YYYY-MM-DD): %v", fieldName, err)
			}
		case time.Time:
			// already parsed; accept value
		default:
			return fmt.Errorf("field '%s' must be a date string, got %T", fieldName, value)
		}
	case "timestamp":
		switch v := value.(type) {
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("field '%s' must be a valid timestamp (RFC3339): %v", fieldName, err)
			}
		case time.Time:
			// already parsed; accept value
		default:
			return fmt.Errorf("field '%s' must be a timestamp string, got %T", fieldName, value)
		}
	case "json":
		if _, err := json.Marshal(value); err != nil {
			return fmt.Errorf("field '%s' contains invalid JSON: %v", fieldName, err)
		}
	case "entity_reference":
		strVal, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be a string reference, got %T", fieldName, value)
		}
		if strings.TrimSpace(strVal) == "" {
			return fmt.Errorf("field '%s' must be a non-empty entity reference string", fieldName)
		}
	default:
		return fmt.Errorf("unknown field type: %s", expectedType)
	}

	return nil
}

func (jv *JSONBValidator) isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case string:
		_, err := strconv.Atoi(v)
		return err == nil
	default:
		return false
	}
}

func (jv *JSONBValidator) isFloat(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case string:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	default:
		return false
	}
}

package jobcard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"jobcard-backend/internal/models"
)

// ErrInvalidDraft is returned when a submission is missing required data.
var ErrInvalidDraft = errors.New("invalid job card draft")

const (
	dateTimePattern         = `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}$`
	optionalDateTimePattern = `^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2})?$`
)

var (
	schemasOnce  sync.Once
	serviceDraft *jsonschema.Schema
	manualDraft  *jsonschema.Schema
	schemasErr   error
)

func nonBlank() map[string]any {
	return map[string]any{"type": "string", "minLength": 1, "pattern": `\S`}
}

func imageList() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

// serviceDraftSchema describes a structured service submission: every
// free-text field is required and must not be blank.
func serviceDraftSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"hospitalName":        nonBlank(),
			"machineType":         nonBlank(),
			"machineModel":        nonBlank(),
			"serialNumber":        nonBlank(),
			"problemReported":     nonBlank(),
			"servicePerformed":    nonBlank(),
			"dateTime":            map[string]any{"type": "string", "pattern": dateTimePattern},
			"beforeServiceImages": imageList(),
			"afterServiceImages":  imageList(),
		},
		"required": []string{
			"hospitalName", "machineType", "machineModel", "serialNumber",
			"problemReported", "servicePerformed", "dateTime",
		},
	}
}

// manualDraftSchema describes an out-of-band upload: a file and a reason,
// no structured service data.
func manualDraftSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"manualUpload": map[string]any{"const": true},
			"manualFile":   nonBlank(),
			"manualReason": nonBlank(),
			"dateTime":     map[string]any{"type": "string", "pattern": dateTimePattern},
		},
		"required": []string{"manualUpload", "manualFile", "manualReason"},
	}
}

func compile(name string, schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(name)
}

func loadSchemas() error {
	schemasOnce.Do(func() {
		serviceDraft, schemasErr = compile("service_draft.json", serviceDraftSchema())
		if schemasErr != nil {
			return
		}
		manualDraft, schemasErr = compile("manual_draft.json", manualDraftSchema())
	})
	return schemasErr
}

// ValidateDraft checks a submission against the schema for its variant.
// Errors wrap ErrInvalidDraft.
func ValidateDraft(d models.Draft) error {
	if err := loadSchemas(); err != nil {
		return fmt.Errorf("compile draft schemas: %w", err)
	}

	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("unmarshal draft: %w", err)
	}

	schema := serviceDraft
	if d.ManualUpload {
		schema = manualDraft
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return nil
}

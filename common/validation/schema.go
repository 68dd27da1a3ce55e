package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

// CheckSchema compiles a JSON schema without applying it.
func CheckSchema(schema map[string]any) error {
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
		return errors2.NewValidation(errors2.CodeInvalidDefinition, "data_schema", "data schema does not compile: %s", err)
	}
	return nil
}

// ValidateData checks resource data against the data schema of its workflow.
// A workflow without a schema accepts any data.
func ValidateData(wf *model.WorkflowDefinition, data model.Vars) error {
	if len(wf.DataSchema) == 0 {
		return nil
	}
	doc := map[string]any(data)
	if doc == nil {
		doc = map[string]any{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(wf.DataSchema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("apply data schema of workflow %s: %w", wf.ID, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors2.NewValidation(errors2.CodeSchemaViolation, "data", "%s", strings.Join(msgs, "; "))
	}
	return nil
}

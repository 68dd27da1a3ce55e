package wfutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"gitlab.com/circuit-breaker/engine/client"
	"gitlab.com/circuit-breaker/engine/model"
)

// ParseWorkflowYaml decodes a workflow definition written in YAML. Keys follow the JSON field names.
func ParseWorkflowYaml(b []byte) (*model.WorkflowDefinition, error) {
	js, err := yaml.YAMLToJSON(b)
	if err != nil {
		return nil, fmt.Errorf("convert workflow yaml: %w", err)
	}
	wf := &model.WorkflowDefinition{}
	if err := json.Unmarshal(js, wf); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return wf, nil
}

// LoadWorkflowFromYamlFile reads a workflow definition from a YAML file and stores it with the engine.
func LoadWorkflowFromYamlFile(ctx context.Context, cl *client.Client, filename string) (*model.WorkflowDefinition, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	wf, err := ParseWorkflowYaml(b)
	if err != nil {
		return nil, err
	}
	created, err := cl.CreateWorkflow(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return created, nil
}

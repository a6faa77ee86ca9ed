// Package workflow loads and queries workflow definitions: the ordered list
// of steps, each bound to an external script, that stepflow executes
// against a project directory.
//
// Definitions are read from YAML. JSON is valid YAML, so definitions written
// in the JSON shape {"workflow_name": ..., "steps": [...]} load unchanged.
package workflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/stepflow/internal/errors"
)

// InputTypeFile is the only supported input kind.
const InputTypeFile = "file"

// Definition is a named, ordered list of steps. It is read-only once loaded.
type Definition struct {
	Name  string `yaml:"workflow_name" json:"workflow_name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one unit of work bound to an external script.
type Step struct {
	ID            string       `yaml:"id" json:"id"`
	Name          string       `yaml:"name" json:"name"`
	Script        string       `yaml:"script" json:"script"`
	SnapshotItems []string     `yaml:"snapshot_items,omitempty" json:"snapshot_items,omitempty"`
	Inputs        []Input      `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	AllowRerun    bool         `yaml:"allow_rerun,omitempty" json:"allow_rerun,omitempty"`
	Conditional   *Conditional `yaml:"conditional,omitempty" json:"conditional,omitempty"`
}

// Input declares a value the caller supplies before the step runs. The value
// is passed to the script as "<Arg> <value>".
type Input struct {
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name" json:"name"`
	Arg  string `yaml:"arg" json:"arg"`
}

// Conditional describes a branch point. Either the trigger/prompt/target
// triple or DependsOn is set. Only the data is modelled; no transitions are
// driven from it.
type Conditional struct {
	TriggerStep string `yaml:"trigger_step,omitempty" json:"trigger_step,omitempty"`
	Prompt      string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	TargetStep  string `yaml:"target_step,omitempty" json:"target_step,omitempty"`
	DependsOn   string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Load reads and validates the definition at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", errors.ErrInvalidWorkflow, path)
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidWorkflow, err)
	}
	return Parse(data)
}

// Parse decodes and validates a definition. Unknown keys are rejected so
// typos in step fields surface at load time rather than as silently
// ignored settings.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidWorkflow, err)
	}
	if errs := def.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidWorkflow, errs)
	}
	return &def, nil
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (*Step, error) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], nil
		}
	}
	return nil, errors.NewStepError("unknown step", errors.ErrStepNotFound).WithStepID(id)
}

// Index returns the position of id in the definition, or -1.
func (d *Definition) Index(id string) int {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// IDs returns the step ids in definition order.
func (d *Definition) IDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID
	}
	return ids
}

// InputKey is the key under which callers supply the value for the
// index-th declared input of a step.
func InputKey(stepID string, index int) string {
	return fmt.Sprintf("%s_input_%d", stepID, index)
}

// BuildArgs pairs each declared input with its supplied value, in
// declaration order. Inputs with no (or an empty) value are omitted.
func (s *Step) BuildArgs(values map[string]string) []string {
	var args []string
	for i, in := range s.Inputs {
		v, ok := values[InputKey(s.ID, i)]
		if !ok || v == "" {
			continue
		}
		args = append(args, in.Arg, v)
	}
	return args
}

// ScriptStem is the script's file name without directory or extension.
// It names the step's success marker.
func (s *Step) ScriptStem() string {
	base := filepath.Base(filepath.FromSlash(s.Script))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

package workflow

import (
	"fmt"
	"strings"
)

// ValidationError is a single problem found in a definition.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every problem found in a definition.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks the definition and returns every problem found, or nil.
func (d *Definition) Validate() ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, ValidationError{Field: "workflow_name", Message: "is required"})
	}
	if len(d.Steps) == 0 {
		errs = append(errs, ValidationError{Field: "steps", Message: "must contain at least one step"})
	}

	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		switch {
		case strings.TrimSpace(s.ID) == "":
			errs = append(errs, ValidationError{Field: field + ".id", Message: "is required"})
		case seen[s.ID]:
			errs = append(errs, ValidationError{Field: field + ".id", Value: s.ID, Message: "duplicate step id"})
		case strings.ContainsAny(s.ID, `/\`):
			errs = append(errs, ValidationError{Field: field + ".id", Value: s.ID, Message: "must not contain path separators"})
		}
		seen[s.ID] = true

		if strings.TrimSpace(s.Script) == "" {
			errs = append(errs, ValidationError{Field: field + ".script", Message: "is required"})
		}
		for j, in := range s.Inputs {
			inField := fmt.Sprintf("%s.inputs[%d]", field, j)
			if in.Type != InputTypeFile {
				errs = append(errs, ValidationError{Field: inField + ".type", Value: in.Type, Message: fmt.Sprintf("must be %q", InputTypeFile)})
			}
			if strings.TrimSpace(in.Arg) == "" {
				errs = append(errs, ValidationError{Field: inField + ".arg", Message: "is required"})
			}
		}
	}

	// Conditional references are checked after every id is known.
	for i, s := range d.Steps {
		if s.Conditional == nil {
			continue
		}
		field := fmt.Sprintf("steps[%d].conditional", i)
		refs := [][2]string{
			{"trigger_step", s.Conditional.TriggerStep},
			{"target_step", s.Conditional.TargetStep},
			{"depends_on", s.Conditional.DependsOn},
		}
		for _, ref := range refs {
			if ref[1] != "" && !seen[ref[1]] {
				errs = append(errs, ValidationError{Field: field + "." + ref[0], Value: ref[1], Message: "references an unknown step"})
			}
		}
	}

	return errs
}

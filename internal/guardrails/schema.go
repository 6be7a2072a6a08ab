package guardrails

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSchema marks structured agent output that does not match the expected shape.
var ErrSchema = errors.New("schema violation")

var (
	planFields     = []string{"plan", "noop", "reason", "name"}
	planItemFields = []string{"action", "why", "files_involved", "steps", "category", "risk", "supportive_evidence"}
)

// ValidatePlanJSON checks a raw plan against the plan shape. Unknown fields at either level are
// rejected; errors wrap ErrSchema.
func ValidatePlanJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("%w: parse plan: %v", ErrSchema, err)
	}
	if top == nil {
		return fmt.Errorf("%w: plan must be a JSON object", ErrSchema)
	}
	if extra := unknownFields(top, planFields); len(extra) > 0 {
		return fmt.Errorf("%w: plan contains disallowed fields: %v (only %s are allowed)", ErrSchema, extra, strings.Join(planFields, ", "))
	}

	noop := false
	if raw, ok := top["noop"]; ok {
		if err := json.Unmarshal(raw, &noop); err != nil {
			return fmt.Errorf("%w: noop must be a boolean", ErrSchema)
		}
	}
	for _, field := range []string{"reason", "name"} {
		if raw, ok := top[field]; ok && !isNull(raw) {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("%w: %s must be a string", ErrSchema, field)
			}
		}
	}

	rawPlan, ok := top["plan"]
	if !ok {
		if noop {
			return nil
		}
		return fmt.Errorf("%w: missing required field: plan", ErrSchema)
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(rawPlan, &items); err != nil {
		return fmt.Errorf("%w: plan must be an array of objects", ErrSchema)
	}
	for i, item := range items {
		if err := validatePlanItem(item); err != nil {
			return fmt.Errorf("%w: plan[%d]: %v", ErrSchema, i, err)
		}
	}
	return nil
}

func validatePlanItem(item map[string]json.RawMessage) error {
	if item == nil {
		return errors.New("item must be an object")
	}
	if extra := unknownFields(item, planItemFields); len(extra) > 0 {
		return fmt.Errorf("disallowed fields: %v", extra)
	}
	for _, field := range []string{"action", "why", "category", "risk"} {
		raw, ok := item[field]
		if !ok || isNull(raw) {
			if field == "action" {
				return errors.New("missing required field: action")
			}
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%s must be a string", field)
		}
		if field == "action" && strings.TrimSpace(s) == "" {
			return errors.New("action must be a non-empty string")
		}
	}
	for _, field := range []string{"files_involved", "supportive_evidence", "steps"} {
		raw, ok := item[field]
		if !ok || isNull(raw) {
			if field == "steps" {
				return errors.New("missing required field: steps")
			}
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("%s must be an array of strings", field)
		}
	}
	return nil
}

func unknownFields(m map[string]json.RawMessage, allowed []string) []string {
	var extra []string
	for field := range m {
		known := false
		for _, a := range allowed {
			if a == field {
				known = true
				break
			}
		}
		if !known {
			extra = append(extra, field)
		}
	}
	sort.Strings(extra)
	return extra
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

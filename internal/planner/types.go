package planner

import (
	"encoding/json"
	"strings"
)

// PlanItem is one proposed change. It is immutable once parsed.
type PlanItem struct {
	Action             string   `json:"action"`
	Why                string   `json:"why"`
	FilesInvolved      []string `json:"files_involved"`
	Steps              []string `json:"steps"`
	Category           string   `json:"category,omitempty"`
	Risk               string   `json:"risk,omitempty"`
	SupportiveEvidence []string `json:"supportive_evidence,omitempty"`
}

// ParsedPlan is the agent's plan for one auditor turn.
type ParsedPlan struct {
	Plan   []PlanItem `json:"plan"`
	Noop   bool       `json:"noop,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Name   string     `json:"name,omitempty"`
}

// Title returns the plan name, or the first item's action.
func (p *ParsedPlan) Title() string {
	if p == nil {
		return ""
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	for _, item := range p.Plan {
		if a := strings.TrimSpace(item.Action); a != "" {
			return a
		}
	}
	return ""
}

func parsePlan(raw json.RawMessage) (*ParsedPlan, error) {
	var plan ParsedPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// PlanSchema is the output schema handed to the agent for plan turns.
const PlanSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["plan", "noop", "reason", "name"],
  "properties": {
    "name": { "type": "string" },
    "noop": { "type": "boolean" },
    "reason": { "type": "string" },
    "plan": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["action", "why", "files_involved", "steps", "category", "risk", "supportive_evidence"],
        "properties": {
          "action": { "type": "string" },
          "why": { "type": "string" },
          "files_involved": { "type": "array", "items": { "type": "string" } },
          "steps": { "type": "array", "items": { "type": "string" } },
          "category": { "type": "string" },
          "risk": { "type": "string", "enum": ["low", "medium", "high"] },
          "supportive_evidence": { "type": "array", "items": { "type": "string" } }
        }
      }
    }
  }
}
`

package ingest

import (
	"fmt"
	"strings"
)

// handoffTextFields must all be present and non-blank on a task.handoff
// payload, in this order.
var handoffTextFields = []string{"problem", "context", "expected_output"}

// validateHandoffPayload returns every problem with a handoff payload. An
// empty known set disables the target-existence check so bare deployments
// without an agent directory still accept handoffs.
func validateHandoffPayload(payload map[string]interface{}, known map[string]struct{}) []string {
	var errs []string

	target := strings.TrimSpace(stringField(payload, "to"))
	if target == "" {
		errs = append(errs, "payload.to is required")
	} else if len(known) > 0 {
		if _, ok := known[target]; !ok {
			errs = append(errs, fmt.Sprintf("payload.to agent not found: %s", target))
		}
	}

	for _, field := range handoffTextFields {
		if strings.TrimSpace(stringField(payload, field)) == "" {
			errs = append(errs, fmt.Sprintf("payload.%s is required", field))
		}
	}

	refs, ok := payload["artifact_refs"].([]interface{})
	if !ok || len(refs) == 0 {
		errs = append(errs, "payload.artifact_refs must be a non-empty list")
	} else {
		for _, item := range refs {
			ref, ok := item.(string)
			if !ok || strings.TrimSpace(ref) == "" {
				errs = append(errs, "payload.artifact_refs must contain non-empty strings")
				break
			}
		}
	}

	if _, ok := payload["review_gate"].(bool); !ok {
		errs = append(errs, "payload.review_gate must be boolean")
	}

	return errs
}

// stringField reads a payload value as a string. Non-string values count as
// absent.
func stringField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

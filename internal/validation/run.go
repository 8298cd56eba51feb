package validation

import (
	"strings"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
)

const maxTriggerLength = 64

func ValidateTriggerRun(req request.TriggerRunRequest) error {
	errors := make(map[string]string)

	triggerType := strings.TrimSpace(req.TriggerType)
	if triggerType == "" {
		errors["trigger_type"] = "trigger_type is required"
	} else if len(triggerType) > maxTriggerLength {
		errors["trigger_type"] = "trigger_type must be 64 characters or less"
	}

	if req.TriggeredBy != nil && len(*req.TriggeredBy) > 255 {
		errors["triggered_by"] = "triggered_by must be 255 characters or less"
	}

	return errorOrNil(errors)
}

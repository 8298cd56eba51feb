package service

import (
	"fmt"
	"strings"

	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// ComputeStatus derives the terminal run status from the account outcomes:
// success when every account committed, partial when at least one did and
// at least one failed, fail otherwise.
func ComputeStatus(outcomes []model.RunAccountOutcome) model.RunStatus {
	ok := 0
	for _, o := range outcomes {
		if o.Outcome == model.OutcomeOK {
			ok++
		}
	}
	switch {
	case len(outcomes) == 0 || ok == 0:
		return model.RunStatusFail
	case ok == len(outcomes):
		return model.RunStatusSuccess
	default:
		return model.RunStatusPartial
	}
}

// BuildErrorSummary lists every failed account with its category and
// message, or returns nil when no account failed.
func BuildErrorSummary(outcomes []model.RunAccountOutcome) *string {
	var parts []string
	for _, o := range outcomes {
		if o.Outcome == model.OutcomeOK {
			continue
		}
		category := o.Category
		if category == "" {
			category = "unknown"
		}
		parts = append(parts, fmt.Sprintf("%s/%s: %s [%s] %s",
			o.Broker, o.BrokerAccountID, o.Outcome, category, o.Message))
	}
	if len(parts) == 0 {
		return nil
	}
	summary := strings.Join(parts, "; ")
	return &summary
}

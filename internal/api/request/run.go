package request

// TriggerRunRequest is the request body for starting a capture run.
type TriggerRunRequest struct {
	TriggerType string  `json:"trigger_type"` // TriggerType labels the run (e.g. "manual"). Required.
	TriggeredBy *string `json:"triggered_by"` // TriggeredBy optionally names the caller.
}

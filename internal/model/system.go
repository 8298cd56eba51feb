package model

// VersionInfo contains version information for the application and schema.
type VersionInfo struct {
	AppVersion       string  `json:"app_version"`
	DbVersion        string  `json:"db_version"`
	MigrationNeeded  bool    `json:"migration_needed"`
	MigrationMessage *string `json:"migration_message,omitempty"`
}

// HealthReport describes a reachable store. LastRun is nil before the first run.
type HealthReport struct {
	LastRun *Run
}

package models

// These structs define the JSON payloads of the HTTP control surface.

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Running           bool         `json:"running"`
	Stale             bool         `json:"stale"`
	LastRunStartedAt  *string      `json:"lastRunStartedAt"`
	LastRunFinishedAt *string      `json:"lastRunFinishedAt"`
	LastRunError      *RunError    `json:"lastRunError"`
	Cron              *string      `json:"cron"`
	InboxCron         *string      `json:"inboxCron"`
	Messages          []LogEntry   `json:"messages"`
	LastRunKind       *RunKind     `json:"lastRunKind"`
	LastRunStore      StoreSummary `json:"lastRunStore"`
}

// StoreSummary mirrors the persisted snapshot header.
type StoreSummary struct {
	StartedAt  *string   `json:"startedAt"`
	FinishedAt *string   `json:"finishedAt"`
	Error      *RunError `json:"error"`
	Running    bool      `json:"running"`
}

// RunResponse is the body of POST /run and POST /inbox.
type RunResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MonthFolderResponse is the body of GET /folders/month.
type MonthFolderResponse struct {
	Client string     `json:"client"`
	Folder FolderNode `json:"folder"`
}

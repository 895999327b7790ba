package models

import "time"

// RunKind identifies which pipeline a run belongs to.
type RunKind string

const (
	RunKindIntake RunKind = "intake"
	RunKindSend   RunKind = "send"
)

// Entry statuses. An inbox entry with StatusSent means the guide reached its client folder.
const (
	StatusSent  = "sent"
	StatusSkip  = "skip"
	StatusError = "error"
)

// Entry types.
const (
	EntryTypeEmail = "email"
	EntryTypeInbox = "inbox"
)

// Reason codes recorded on ledger entries.
const (
	ReasonOK                   = "ok"
	ReasonClientFolderNotFound = "client_folder_not_found"
	ReasonMonthFolderNotFound  = "month_folder_not_found"
	ReasonNoPDFs               = "no_pdfs"
	ReasonAlreadyProcessed     = "already_processed"
	ReasonSendFailed           = "send_failed"
	ReasonDownloadFailed       = "download_failed"
	ReasonLookupFailed         = "lookup_failed"
	ReasonUnclassified         = "unclassified"
	ReasonRouteFailed          = "route_failed"
)

// LogEntry is one outcome event of a run. Email batches fill Client/Period/Recipient/Subject,
// intake events fill FileID/FileName.
type LogEntry struct {
	ID        string    `json:"id" firestore:"id"`
	Time      time.Time `json:"timeISO" firestore:"time"`
	Type      string    `json:"type" firestore:"type"`
	Status    string    `json:"status" firestore:"status"`
	Reason    string    `json:"reason,omitempty" firestore:"reason,omitempty"`
	Client    string    `json:"cliente,omitempty" firestore:"client,omitempty"`
	Period    string    `json:"mes,omitempty" firestore:"period,omitempty"`
	Recipient string    `json:"to,omitempty" firestore:"recipient,omitempty"`
	Subject   string    `json:"subject,omitempty" firestore:"subject,omitempty"`
	FileID    string    `json:"fileId,omitempty" firestore:"fileId,omitempty"`
	FileName  string    `json:"fileName,omitempty" firestore:"fileName,omitempty"`
	RunID     string    `json:"runId,omitempty" firestore:"runId,omitempty"`
}

// RunError is the flattened error persisted with a finished run. No stack traces.
type RunError struct {
	Message string `json:"message" firestore:"message"`
}

// RunState is the "last run" snapshot.
type RunState struct {
	ID         string     `json:"id,omitempty" firestore:"id,omitempty"`
	Kind       RunKind    `json:"kind,omitempty" firestore:"kind,omitempty"`
	StartedAt  *time.Time `json:"startedAt" firestore:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt" firestore:"finishedAt"`
	Running    bool       `json:"running" firestore:"running"`
	Error      *RunError  `json:"error" firestore:"error"`
	Messages   []LogEntry `json:"messages" firestore:"messages"`
}

// EmptyRunState is what is reported before any run has been persisted.
func EmptyRunState() RunState {
	return RunState{Messages: []LogEntry{}}
}

// IsStale reports a snapshot still marked running long after it started, which only happens
// when the process died before finishing the run.
func (s RunState) IsStale(now time.Time, maxAge time.Duration) bool {
	if !s.Running || s.StartedAt == nil || maxAge <= 0 {
		return false
	}
	return now.Sub(*s.StartedAt) > maxAge
}

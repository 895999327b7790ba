// Package config loads process configuration from the environment (and an optional .env).
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

var (
	ErrMissingClientsRoot  = errors.New("DRIVE_FOLDER_ID_CLIENTES must be set")
	ErrMissingInboxRoot    = errors.New("DRIVE_FOLDER_ID_INBOX must be set")
	ErrMissingSheetID      = errors.New("SHEET_ID must be set")
	ErrMissingSender       = errors.New("SMTP_FROM or GMAIL_DELEGATED_USER must be set")
	ErrMissingDelegation   = errors.New("USE_GMAIL_API requires GMAIL_DELEGATED_USER and GOOGLE_APPLICATION_CREDENTIALS")
	ErrMissingProjectID    = errors.New("PROJECT_ID must be set for the firestore run log")
	ErrMissingRunLogBucket = errors.New("RUNLOG_BUCKET must be set for the gcs run log")
	ErrBadTargetMonth      = errors.New("TARGET_MONTH must look like MM-YYYY")
	ErrBadTimeZone         = errors.New("TZ is not a known time zone")
	ErrBadRunLogBackend    = errors.New("RUNLOG_BACKEND must be one of file, firestore, gcs")
)

// Pipeline selects which requirements Validate enforces.
type Pipeline int

const (
	PipelineIntake Pipeline = iota
	PipelineSend
	PipelineServer
)

type Config struct {
	App    AppConfig
	Google GoogleConfig
	Mail   MailConfig
	Run    RunConfig
	RunLog RunLogConfig
}

type AppConfig struct {
	Host              string
	Port              string
	Environment       string
	LogLevel          string
	LogFilePath       string
	APIKeys           []string
	CronSchedule      string
	InboxCronSchedule string
}

type GoogleConfig struct {
	CredentialsFile string
	InboxFolderID   string
	ClientsFolderID string
	SheetID         string
	SheetRange      string
}

type MailConfig struct {
	UseGmailAPI        bool
	GmailDelegatedUser string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPass           string
	From               string
	Signature          string
	DryRun             bool
}

type RunConfig struct {
	ForceSend     bool
	TargetMonth   string
	TimeZone      string
	StaleRunAfter time.Duration
}

type RunLogConfig struct {
	Backend    string
	DataDir    string
	ProjectID  string
	Bucket     string
	Collection string
}

func (c Config) IsProd() bool { return c.App.Environment == "production" }

// Load reads .env when present, then the process environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() *Config {
	smtpFrom := strings.TrimSpace(GetEnv("SMTP_FROM", ""))
	delegated := strings.TrimSpace(GetEnv("GMAIL_DELEGATED_USER", ""))
	from := smtpFrom
	if from == "" {
		from = delegated
	}

	return &Config{
		App: AppConfig{
			Host:              GetEnv("HOST", "0.0.0.0"),
			Port:              GetEnv("PORT", "8080"),
			Environment:       GetEnv("GO_ENV", "development"),
			LogLevel:          GetEnv("LOG_LEVEL", "info"),
			LogFilePath:       GetEnv("LOG_FILE_PATH", ""),
			APIKeys:           splitList(GetEnv("API_KEYS", "")),
			CronSchedule:      GetEnv("CRON_SCHEDULE", ""),
			InboxCronSchedule: GetEnv("INBOX_CRON_SCHEDULE", ""),
		},
		Google: GoogleConfig{
			CredentialsFile: GetEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			InboxFolderID:   GetEnv("DRIVE_FOLDER_ID_INBOX", ""),
			ClientsFolderID: GetEnv("DRIVE_FOLDER_ID_CLIENTES", ""),
			SheetID:         GetEnv("SHEET_ID", ""),
			SheetRange:      GetEnv("SHEET_RANGE", "A:B"),
		},
		Mail: MailConfig{
			UseGmailAPI:        getEnvAsBool("USE_GMAIL_API", false),
			GmailDelegatedUser: delegated,
			SMTPHost:           GetEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:           getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:           GetEnv("SMTP_USER", ""),
			SMTPPass:           GetEnv("SMTP_PASS", ""),
			From:               from,
			Signature:          GetEnv("MAIL_SIGNATURE", "Belgen Contabilidade"),
			DryRun:             getEnvAsBool("DRY_RUN", false),
		},
		Run: RunConfig{
			ForceSend:     getEnvAsBool("FORCE_SEND", false),
			TargetMonth:   strings.TrimSpace(GetEnv("TARGET_MONTH", "")),
			TimeZone:      GetEnv("TZ", "America/Sao_Paulo"),
			StaleRunAfter: getEnvAsDuration("STALE_RUN_AFTER", 6*time.Hour),
		},
		RunLog: RunLogConfig{
			Backend:    strings.ToLower(GetEnv("RUNLOG_BACKEND", "file")),
			DataDir:    GetEnv("DATA_DIR", "./data"),
			ProjectID:  GetEnv("PROJECT_ID", ""),
			Bucket:     GetEnv("RUNLOG_BUCKET", ""),
			Collection: GetEnv("RUNLOG_COLLECTION", "paymentguide_runs"),
		},
	}
}

var targetMonthRe = regexp.MustCompile(`^(0[1-9]|1[0-2])-\d{4}$`)

// Validate returns every configuration error for pipeline p, joined.
func (c Config) Validate(p Pipeline) error {
	var errs []error
	if _, err := time.LoadLocation(c.Run.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadTimeZone, c.Run.TimeZone))
	}
	switch c.RunLog.Backend {
	case "file":
	case "firestore":
		if c.RunLog.ProjectID == "" {
			errs = append(errs, ErrMissingProjectID)
		}
	case "gcs":
		if c.RunLog.Bucket == "" {
			errs = append(errs, ErrMissingRunLogBucket)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadRunLogBackend, c.RunLog.Backend))
	}

	// The server mounts intake only when an inbox is configured.
	needIntake := p == PipelineIntake
	needSend := p == PipelineSend || p == PipelineServer

	if c.Google.ClientsFolderID == "" {
		errs = append(errs, ErrMissingClientsRoot)
	}
	if needIntake && c.Google.InboxFolderID == "" {
		errs = append(errs, ErrMissingInboxRoot)
	}
	if needSend {
		if c.Google.SheetID == "" {
			errs = append(errs, ErrMissingSheetID)
		}
		if c.Mail.From == "" {
			errs = append(errs, ErrMissingSender)
		}
		if c.Mail.UseGmailAPI && (c.Mail.GmailDelegatedUser == "" || c.Google.CredentialsFile == "") {
			errs = append(errs, ErrMissingDelegation)
		}
	}
	if p == PipelineServer && c.Run.TargetMonth != "" && !targetMonthRe.MatchString(c.Run.TargetMonth) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadTargetMonth, c.Run.TargetMonth))
	}
	return errors.Join(errs...)
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(GetEnv(key, ""))); err == nil {
		return v
	}
	return fallback
}

// getEnvAsBool accepts "1" and anything strconv.ParseBool does.
func getEnvAsBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return fallback
	}
	if raw == "1" {
		return true
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(GetEnv(key, ""))); err == nil {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package gcp

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// ClientOptions builds the client options shared by every Google API client. A service
// account key file wins when given; otherwise Application Default Credentials are used.
func ClientOptions(ctx context.Context, credentialsFile string, scopes ...string) ([]option.ClientOption, error) {
	if credentialsFile == "" {
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
		return []option.ClientOption{option.WithCredentials(creds)}, nil
	}
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// DelegatedClientOptions impersonates subject through domain-wide delegation. Gmail sends
// as a mailbox, not as the service account, so it needs a key file and a subject.
func DelegatedClientOptions(ctx context.Context, credentialsFile, subject string, scopes ...string) ([]option.ClientOption, error) {
	if credentialsFile == "" || subject == "" {
		return nil, fmt.Errorf("delegation requires a service account key file and a subject")
	}
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(raw, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}
	conf.Subject = subject
	return []option.ClientOption{option.WithTokenSource(conf.TokenSource(ctx))}, nil
}

package mail

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/Lllllllleong/paymentguideflow/internal/gcp"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
)

// GmailSender sends through the Gmail API as a delegated workspace user.
type GmailSender struct {
	svc  *gmail.Service
	from string
	log  *zap.SugaredLogger
}

func NewGmailSender(ctx context.Context, credentialsFile, delegatedUser, from string, log *zap.SugaredLogger) (*GmailSender, error) {
	opts, err := gcp.DelegatedClientOptions(ctx, credentialsFile, delegatedUser, gmail.GmailSendScope)
	if err != nil {
		return nil, err
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail client: %w", err)
	}
	return NewGmailSenderFromService(svc, from, log), nil
}

func NewGmailSenderFromService(svc *gmail.Service, from string, log *zap.SugaredLogger) *GmailSender {
	return &GmailSender{svc: svc, from: from, log: log}
}

func (g *GmailSender) Send(ctx context.Context, msg Message) error {
	raw, err := renderMIME(g.from, msg)
	if err != nil {
		return err
	}
	_, err = g.svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail send to %s: %w", msg.To, err)
	}
	g.log.Infow("Email sent (Gmail API).", "to", msg.To, "from", g.from)
	return nil
}

// Package mail sends guide batches to clients through SMTP or the Gmail API.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"path/filepath"

	"github.com/Lllllllleong/paymentguideflow/internal/config"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Attachment is a file on local disk.
type Attachment struct {
	Filename string
	Path     string
}

type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers one message. A nil error means the transport accepted it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the backend from configuration. Dry runs still build the full MIME message.
func New(ctx context.Context, cfg config.MailConfig, credentialsFile string, log *zap.SugaredLogger) (Sender, error) {
	if cfg.DryRun {
		return NewDryRun(cfg.From, log), nil
	}
	if cfg.UseGmailAPI {
		return NewGmailSender(ctx, credentialsFile, cfg.GmailDelegatedUser, cfg.From, log)
	}
	return NewSMTPSender(cfg, log), nil
}

func buildMessage(from string, msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)
	for _, a := range msg.Attachments {
		name := a.Filename
		if name == "" {
			name = filepath.Base(a.Path)
		}
		m.Attach(a.Path,
			gomail.Rename(name),
			gomail.SetHeader(map[string][]string{"Content-Type": {"application/pdf"}}),
		)
	}
	return m
}

// renderMIME serializes the message. Attachments are read from disk here.
func renderMIME(from string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buildMessage(from, msg).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to build MIME message: %w", err)
	}
	return buf.Bytes(), nil
}

// DryRun builds every message but never sends it.
type DryRun struct {
	from string
	log  *zap.SugaredLogger
}

func NewDryRun(from string, log *zap.SugaredLogger) *DryRun {
	return &DryRun{from: from, log: log}
}

func (d *DryRun) Send(_ context.Context, msg Message) error {
	if _, err := buildMessage(d.from, msg).WriteTo(io.Discard); err != nil {
		return fmt.Errorf("failed to build MIME message: %w", err)
	}
	d.log.Infow("[DRY_RUN] Would send email.", "to", msg.To, "from", d.from, "attachments", len(msg.Attachments))
	return nil
}

var guideBody = template.Must(template.New("guide").Parse(`<!doctype html>
<html><body style="font-family:Arial,sans-serif;color:#2C3E50">
<p>Olá, <b>{{.Client}}</b></p>
<p>Segue em anexo a(s) guia(s) referente(s) a <b>{{.Period}}</b></p>
<p>Atenciosamente,<br>{{.Signature}}</p>
<hr style="border:none;border-top:1px solid #ECF0F1">
<small style="color:#7f8c8d">Mensagem automática. Em caso de dúvida, responda este e-mail.</small>
</body></html>
`))

// GuideMessage composes the single per-client batch email for one period.
func GuideMessage(client models.ClientRecord, period, signature string, attachments []Attachment) (Message, error) {
	var body bytes.Buffer
	err := guideBody.Execute(&body, struct{ Client, Period, Signature string }{client.Name, period, signature})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render email body: %w", err)
	}
	return Message{
		To:          client.Email,
		Subject:     "Guias de pagamento – " + period,
		HTML:        body.String(),
		Attachments: attachments,
	}, nil
}

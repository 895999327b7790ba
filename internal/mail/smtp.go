package mail

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/paymentguideflow/internal/config"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// SMTPSender dials once per message. STARTTLS is negotiated when the server offers it;
// authentication is only attempted when a user is configured.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	log    *zap.SugaredLogger
}

func NewSMTPSender(cfg config.MailConfig, log *zap.SugaredLogger) *SMTPSender {
	user, pass := cfg.SMTPUser, cfg.SMTPPass
	if user == "" || pass == "" {
		user, pass = "", ""
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, user, pass),
		from:   cfg.From,
		log:    log,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(buildMessage(s.from, msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	s.log.Infow("Email sent (SMTP).", "to", msg.To, "from", s.from)
	return nil
}

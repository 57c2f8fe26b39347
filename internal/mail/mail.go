// Package mail delivers outbound email to providers, either directly over
// SMTP, through a Redis-backed queue, or into the log.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Email struct {
	ToName  string `json:"to_name"`
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (e Email) Validate() error {
	if strings.TrimSpace(e.ToEmail) == "" {
		return errors.New("recipient address is required")
	}
	if strings.TrimSpace(e.Subject) == "" {
		return errors.New("subject is required")
	}
	return nil
}

// Recipient renders the address as "Name <email>".
func (e Email) Recipient() string {
	if e.ToName == "" {
		return e.ToEmail
	}
	return fmt.Sprintf("%s <%s>", e.ToName, e.ToEmail)
}

type Sender interface {
	Send(ctx context.Context, e Email) error
}

// LogSender writes emails to the logger instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.logger.Info("email",
		zap.String("to", e.Recipient()),
		zap.String("subject", e.Subject),
		zap.String("body", e.Body),
	)
	return nil
}

// Package notify turns committed appointment transitions into side effects:
// an in-app notification for the provider on creation and an email to the
// provider on cancellation.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"appointly/internal/domain"
	"appointly/internal/mail"
	"appointly/internal/store"
)

type Config struct {
	Locale    string
	Location  *time.Location
	Workers   int
	QueueSize int
	// WriteTimeout bounds each notification write made by a worker.
	WriteTimeout time.Duration
}

type job struct {
	notification domain.Notification
}

// Notifier records creation notices through a bounded in-process queue and
// sends cancellation emails on the caller's goroutine.
type Notifier struct {
	notes  store.NotificationRepository
	mailer mail.Sender
	tmpl   Templates
	loc    *time.Location
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     conc.WaitGroup
}

func New(notes store.NotificationRepository, mailer mail.Sender, cfg Config, logger *zap.Logger) (*Notifier, error) {
	tmpl, err := TemplatesFor(cfg.Locale)
	if err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize < 0 {
		return nil, errors.New("queue size must not be negative")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Notifier{
		notes:  notes,
		mailer: mailer,
		tmpl:   tmpl,
		loc:    cfg.Location,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		n.wg.Go(n.work)
	}
	return n, nil
}

// AppointmentCreated queues a notice for the provider. When the queue is full
// or the notifier is closed the notice is written inline instead, so it is
// never dropped.
func (n *Notifier) AppointmentCreated(ctx context.Context, appt domain.Appointment, requesterName string) {
	j := job{notification: domain.Notification{
		RecipientUserID: appt.ProviderID,
		Content:         n.tmpl.createdContent(requesterName, appt.ScheduledAt, n.loc),
	}}

	n.mu.RLock()
	if !n.closed {
		select {
		case n.jobs <- j:
			n.mu.RUnlock()
			return
		default:
		}
	}
	n.mu.RUnlock()

	n.write(context.WithoutCancel(ctx), j)
}

// AppointmentCanceled emails the provider. The returned error is for the
// caller to log; the appointment is already canceled.
func (n *Notifier) AppointmentCanceled(ctx context.Context, appt domain.Appointment) error {
	if appt.Provider == nil {
		return fmt.Errorf("appointment %s: provider not loaded", appt.ID)
	}
	e := mail.Email{
		ToName:  appt.Provider.Name,
		ToEmail: appt.Provider.Email,
		Subject: n.tmpl.CancelSubject,
		Body:    n.tmpl.CancelBody,
	}
	if err := n.mailer.Send(ctx, e); err != nil {
		return fmt.Errorf("send cancellation email: %w", err)
	}
	n.logger.Info("cancellation email dispatched",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("to", e.Recipient()),
	)
	return nil
}

// Close stops accepting queued notices and waits for queued ones to be written.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.jobs)
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *Notifier) work() {
	for j := range n.jobs {
		n.write(context.Background(), j)
	}
}

func (n *Notifier) write(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.WriteTimeout)
	defer cancel()

	saved, err := n.notes.CreateNotification(ctx, j.notification)
	if err != nil {
		n.logger.Error("notification write failed",
			zap.Int64("recipient_user_id", j.notification.RecipientUserID),
			zap.Error(err),
		)
		return
	}
	n.logger.Debug("notification written",
		zap.String("notification_id", saved.ID.String()),
		zap.Int64("recipient_user_id", saved.RecipientUserID),
	)
}

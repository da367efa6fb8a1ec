package mailer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegs-platform/aegs-api/internal/models"
	"github.com/aegs-platform/aegs-api/pkg/config"
	"github.com/aegs-platform/aegs-api/pkg/jobs"
)

const (
	jobWelcome            = "welcome"
	jobRegistrationStatus = "registration_status"
	jobCertificateIssued  = "certificate_issued"
)

// Notifier queues participant emails for background delivery. Delivery
// failures are retried by the queue and never surface to the caller.
type Notifier struct {
	queue  *jobs.Queue
	mailer Mailer
	logger *zap.Logger
}

// NewNotifier wires the mailer behind an in-memory job queue.
func NewNotifier(mailer Mailer, cfg config.MailerConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{mailer: mailer, logger: logger}
	n.queue = jobs.NewQueue("mailer", n.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return n
}

// Start launches the delivery workers.
func (n *Notifier) Start(ctx context.Context) {
	n.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (n *Notifier) Stop() {
	n.queue.Stop()
}

func (n *Notifier) handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(Message)
	if !ok {
		n.logger.Warn("mailer job with unexpected payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return n.mailer.Send(ctx, msg)
}

func (n *Notifier) enqueue(jobType string, msg Message) {
	err := n.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: msg,
	})
	if err != nil {
		n.logger.Warn("failed to enqueue notification", zap.String("type", jobType), zap.Error(err))
	}
}

// SendWelcome greets a newly registered user.
func (n *Notifier) SendWelcome(user *models.User) {
	n.enqueue(jobWelcome, Message{
		To:      []string{user.Email},
		Subject: "Welcome to the academic events platform",
		Body: fmt.Sprintf("Hello %s,\n\nYour account %q has been created. You can now browse events and manage your registrations.\n\nAcademic Events Team\n",
			user.FullName, user.Username),
	})
}

// SendRegistrationStatus informs a participant about a registration change.
func (n *Notifier) SendRegistrationStatus(detail *models.RegistrationDetail) {
	var subject, intro string
	switch detail.Status {
	case models.RegistrationStatusConfirmed:
		subject = "Registration confirmed"
		intro = "Your registration has been confirmed."
	case models.RegistrationStatusCancelled:
		subject = "Registration cancelled"
		intro = "Your registration has been cancelled."
	default:
		subject = "Registration received"
		intro = "Your registration has been received and is pending confirmation."
	}
	n.enqueue(jobRegistrationStatus, Message{
		To:      []string{detail.ParticipantEmail},
		Subject: subject,
		Body: fmt.Sprintf("Hello %s,\n\n%s\n\nEvent: %s\nLocation: %s\nStarts: %s\n\nAcademic Events Team\n",
			detail.ParticipantName, intro, detail.EventDisplayTitle(), detail.EventLocation, detail.EventStartDate.Format("2006-01-02")),
	})
}

// SendCertificateIssued notifies a participant their certificate is ready.
func (n *Notifier) SendCertificateIssued(detail *models.CertificateDetail) {
	n.enqueue(jobCertificateIssued, Message{
		To:      []string{detail.ParticipantEmail},
		Subject: "Your participation certificate is ready",
		Body: fmt.Sprintf("Hello %s,\n\nYour certificate for %q has been issued.\n\nVerification code: %s\nCredit hours: %d\n\nAcademic Events Team\n",
			detail.ParticipantName, detail.EventDisplayTitle(), detail.Code, detail.Hours),
	})
}

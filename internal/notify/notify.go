package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smartcampus/internal/attendance"
	"smartcampus/internal/metrics"
	"smartcampus/internal/queue"
)

// Recipient kinds carried on notification envelopes.
const (
	RecipientStudent  = "student"
	RecipientGuardian = "guardian"
	RecipientFaculty  = "faculty"
)

// MessageType tags queue envelopes carrying notifications.
const MessageType = "notification"

// Notification is the outbound envelope. The core decides whether and what;
// the delivery worker owns the channel and the persistence of its log.
type Notification struct {
	RecipientKind  string    `json:"recipient_kind"`
	RecipientEmail string    `json:"recipient_email"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	QueuedAt       time.Time `json:"queued_at"`
}

// Publisher hands notifications to the delivery queue.
type Publisher struct {
	q queue.Queue
}

// NewPublisher creates a publisher over a queue backend.
func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

// Publish enqueues one notification.
func (p *Publisher) Publish(ctx context.Context, n Notification) error {
	n.QueuedAt = time.Now().UTC()
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		return err
	}
	metrics.NotificationsQueued.Inc()
	return nil
}

// NotifyAbsentees emits one student notification per absentee plus one for the
// guardian when a guardian contact is on file. Satisfies attendance.Notifier.
func (p *Publisher) NotifyAbsentees(ctx context.Context, absentees []attendance.Student, date time.Time) error {
	day := date.Format("2006-01-02")
	for _, st := range absentees {
		n := Notification{
			RecipientKind:  RecipientStudent,
			RecipientEmail: st.Email,
			Subject:        "Absence recorded",
			Body: fmt.Sprintf("Dear %s, you were marked absent on %s. Please contact your faculty if this is an error.",
				st.Name, day),
		}
		if err := p.Publish(ctx, n); err != nil {
			return err
		}
		if st.GuardianEmail == "" {
			continue
		}
		g := Notification{
			RecipientKind:  RecipientGuardian,
			RecipientEmail: st.GuardianEmail,
			Subject:        "Absence recorded",
			Body: fmt.Sprintf("Dear Parent/Guardian, your child %s was marked absent on %s. Please ensure they attend classes regularly.",
				st.Name, day),
		}
		if err := p.Publish(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// FacultyAlert enqueues an operational alert for a faculty member.
func (p *Publisher) FacultyAlert(ctx context.Context, email, subject, message string) error {
	return p.Publish(ctx, Notification{
		RecipientKind:  RecipientFaculty,
		RecipientEmail: email,
		Subject:        subject,
		Body:           message,
	})
}

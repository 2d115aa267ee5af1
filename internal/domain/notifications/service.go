package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"kpi/internal/domain/calculation"
	"kpi/internal/domain/scoring"
)

type Mailer interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

type Service struct {
	store       StoreAPI
	Mailer      Mailer
	DefaultFrom string
}

func New(store StoreAPI, mailer Mailer) *Service {
	return &Service{store: store, Mailer: mailer, DefaultFrom: DefaultFrom}
}

// Create stores an in-app notification and mails a copy when the tenant has
// email switched on. Only the insert can fail the call.
func (s *Service) Create(ctx context.Context, tenantID, userID, ntype, title, body string) error {
	msg := Message{Type: ntype, Title: title, Body: body}
	if err := s.store.Insert(ctx, tenantID, userID, msg); err != nil {
		return err
	}
	if s.Mailer != nil {
		s.mail(ctx, tenantID, userID, msg)
	}
	return nil
}

func (s *Service) mail(ctx context.Context, tenantID, userID string, msg Message) {
	rcpt, err := s.store.Recipient(ctx, tenantID, userID)
	if err != nil {
		slog.Warn("notification recipient lookup failed", "tenantId", tenantID, "userId", userID, "err", err)
		return
	}
	if !rcpt.EmailEnabled || rcpt.Email == "" {
		return
	}
	from := rcpt.From
	if from == "" {
		from = s.DefaultFrom
	}
	if err := s.Mailer.Send(ctx, from, rcpt.Email, msg.Title, msg.Body); err != nil {
		slog.Warn("notification email send failed", "type", msg.Type, "userId", userID, "err", err)
	}
}

func (s *Service) CalculationCompleted(ctx context.Context, tenantID, userID string, summary calculation.Summary) error {
	body := fmt.Sprintf("Calculation run %s finished: %d entries, %d employees, %d departments in %dms.",
		summary.RunID, summary.Entries, summary.Employees, summary.Departments, summary.ElapsedMs)
	return s.Create(ctx, tenantID, userID, TypeCalculationCompleted, "KPI calculation completed", body)
}

func (s *Service) LowPerformance(ctx context.Context, tenantID, userID string, result calculation.IndividualResult) error {
	body := fmt.Sprintf("Your KPI total for this period is %.2f (grade %s, %s).", result.TotalScore, result.Grade, result.Status)
	return s.Create(ctx, tenantID, userID, TypeLowPerformance, "KPI score below threshold", body)
}

func (s *Service) List(ctx context.Context, tenantID, userID string, filter ListFilter) ([]Notification, error) {
	return s.store.List(ctx, tenantID, userID, filter)
}

func (s *Service) MarkRead(ctx context.Context, tenantID, userID, notificationID string) error {
	found, err := s.store.MarkRead(ctx, tenantID, userID, notificationID)
	if err != nil {
		return err
	}
	if !found {
		return &scoring.NotFoundError{Entity: "notification", ID: notificationID}
	}
	return nil
}

var _ calculation.Notifier = (*Service)(nil)

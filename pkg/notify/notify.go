// Package notify delivers project invitations to the notification service.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Invitation is one invitation emission for a project member
type Invitation struct {
	ProjectID uuid.UUID  `json:"project_id"`
	MemberID  uuid.UUID  `json:"member_id"`
	AccountID *uuid.UUID `json:"account_id,omitempty"`
	Email     string     `json:"email"`
}

// Result reports what the notifier did. NotificationCreated is true only
// when an in-product notification was created for a registered account;
// otherwise the invitation was merely prepared for email delivery.
type Result struct {
	Success             bool `json:"success"`
	NotificationCreated bool `json:"notification_created"`
}

// Notifier sends invitations. Calls block and are never retried.
type Notifier interface {
	SendInvitation(ctx context.Context, inv Invitation) (Result, error)
}

// LogNotifier logs invitations instead of delivering them
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a notifier for local development
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

// SendInvitation implements Notifier
func (n *LogNotifier) SendInvitation(ctx context.Context, inv Invitation) (Result, error) {
	hasAccount := inv.AccountID != nil && *inv.AccountID != uuid.Nil
	n.logger.WithFields(logrus.Fields{
		"project_id":  inv.ProjectID,
		"member_id":   inv.MemberID,
		"email":       inv.Email,
		"has_account": hasAccount,
	}).Info("invitation prepared")
	return Result{Success: true, NotificationCreated: hasAccount}, nil
}

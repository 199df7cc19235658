// Package notify delivers welcome notices to newly provisioned accounts.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// WelcomeNotice tells a new account how to sign in for the first time
type WelcomeNotice struct {
	RecipientEmail    string `json:"recipient_email"`
	RecipientName     string `json:"recipient_name"`
	Role              string `json:"role"`
	TenantName        string `json:"tenant_name"`
	TenantCode        string `json:"tenant_code"`
	TemporaryPassword string `json:"temporary_password"`
	InviterName       string `json:"inviter_name,omitempty"`
	PortalURL         string `json:"portal_url,omitempty"`
}

// Notifier sends welcome notices
type Notifier interface {
	SendWelcomeNotice(ctx context.Context, notice WelcomeNotice) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, notice WelcomeNotice) error

// SendWelcomeNotice calls f
func (f NotifierFunc) SendWelcomeNotice(ctx context.Context, notice WelcomeNotice) error {
	return f(ctx, notice)
}

// LogNotifier writes notices to the log instead of delivering them. The
// temporary password is never logged.
type LogNotifier struct {
	Log logrus.FieldLogger
}

// SendWelcomeNotice logs the notice
func (n LogNotifier) SendWelcomeNotice(_ context.Context, notice WelcomeNotice) error {
	log := n.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"recipient":   notice.RecipientEmail,
		"role":        notice.Role,
		"tenant_code": notice.TenantCode,
		"inviter":     notice.InviterName,
	}).Info("Welcome notice")
	return nil
}

// Package crm defines the boundary to the CRM application: a read-only
// contact directory used for correlation and a fire-and-forget notifier for
// connection-level incidents. The gateway never creates or mutates CRM
// records.
package crm

import (
	"context"

	"go.uber.org/zap"
)

// Contact is the CRM-side contact used for correlation.
type Contact struct {
	ID       string
	FullName string
	Phone    string
}

// Directory looks up CRM contacts by phone number.
type Directory interface {
	// FindContactByPhone returns the contact with the exact phone number,
	// or nil if none matches.
	FindContactByPhone(ctx context.Context, phone string) (*Contact, error)
}

// Notifier surfaces connection-level incidents to the CRM. Implementations
// must not block; failures are logged by the caller and never escalate.
type Notifier interface {
	NotifyConnectionFailed(userID string, attempts int, reason string)
	NotifyReauthRequired(userID string)
	NotifyConnectionRestored(userID string)
}

// NopDirectory is a Directory that never matches. Used when the CRM store is
// not wired, e.g. in tests or standalone deployments.
type NopDirectory struct{}

func (NopDirectory) FindContactByPhone(context.Context, string) (*Contact, error) {
	return nil, nil
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) NotifyConnectionFailed(userID string, attempts int, reason string) {
	n.Logger.Warn("connection failed",
		zap.String("user_id", userID),
		zap.Int("attempts", attempts),
		zap.String("reason", reason))
}

func (n *LogNotifier) NotifyReauthRequired(userID string) {
	n.Logger.Warn("re-authentication required", zap.String("user_id", userID))
}

func (n *LogNotifier) NotifyConnectionRestored(userID string) {
	n.Logger.Info("connection restored", zap.String("user_id", userID))
}

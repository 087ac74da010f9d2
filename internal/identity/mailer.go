package identity

import (
	"context"
	"net/url"
	"strings"

	"realmeal/internal/events"
	"realmeal/internal/observability"
)

// EventMailer hands verification links to the mail worker over the event bus.
type EventMailer struct {
	pub     events.Publisher
	baseURL string
}

// NewEventMailer creates a mailer whose links point at baseURL.
func NewEventMailer(pub events.Publisher, baseURL string) *EventMailer {
	return &EventMailer{pub: pub, baseURL: strings.TrimRight(baseURL, "/")}
}

// VerifyURL returns the link that completes verification for token.
func (m *EventMailer) VerifyURL(token string) string {
	return m.baseURL + "/api/auth/verify?token=" + url.QueryEscape(token)
}

func (m *EventMailer) SendVerification(ctx context.Context, userID, email, token string) error {
	link := m.VerifyURL(token)
	observability.GlobalLogger.InfoContext(ctx, "verification requested", "user_id", userID)
	observability.GlobalLogger.DebugContext(ctx, "verification link", "user_id", userID, "verify_url", link)
	return m.pub.Publish(ctx, events.SubjectVerificationRequested, events.VerificationRequested{
		UserID:    userID,
		Email:     email,
		Token:     token,
		VerifyURL: link,
	})
}

// Package mailer carries issued tokens to the email-dispatch layer. The
// token engines notify it after issuance without awaiting delivery; a lost
// notification means a user re-requests a token, never a broken invariant.
package mailer

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/paperpress/blog-api/domain"
)

// Notifier receives a copy of every freshly issued action token so the
// corresponding email can be sent.
//
//go:generate mockgen -source=$GOFILE -destination=../mocks/mock_$GOPACKAGE/mock_$GOFILE -package=mock_$GOPACKAGE
type Notifier interface {
	TokenIssued(ctx context.Context, token *domain.ActionToken)
}

// LogNotifier is a Notifier that only logs. Used in development and as the
// default when no dispatch backend is configured.
type LogNotifier struct{}

// NewLogNotifier creates a logging-only notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// TokenIssued implements Notifier.
func (n *LogNotifier) TokenIssued(_ context.Context, token *domain.ActionToken) {
	log.Info().
		Str("subject", token.Subject).
		Str("category", string(token.Category)).
		Time("expires_at", token.ExpiresAt).
		Msg("action token issued, email dispatch requested")
}

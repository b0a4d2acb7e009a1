package mail

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/internal/pkg/events"
)

// CompletionNotifier is an event sink that emails users when one of their
// generations reaches a terminal state. Sending happens on a separate
// goroutine; a mail failure never affects the lifecycle transition that
// triggered it.
type CompletionNotifier struct {
	db   *gorm.DB
	next events.Sink
}

// NewCompletionNotifier wraps another sink with completion emails.
func NewCompletionNotifier(db *gorm.DB, next events.Sink) *CompletionNotifier {
	if next == nil {
		next = events.NoopSink{}
	}
	return &CompletionNotifier{db: db, next: next}
}

// Track forwards the event and, for terminal generation events, emails the
// user if their settings ask for it.
func (n *CompletionNotifier) Track(ctx context.Context, userID uint, event string, props map[string]interface{}) {
	n.next.Track(ctx, userID, event, props)

	switch event {
	case events.EventGenerationSucceeded, events.EventGenerationFailed:
	default:
		return
	}

	var user models.User
	if err := n.db.First(&user, userID).Error; err != nil {
		log.Printf("[Mail] completion notify: user %d lookup failed: %v", userID, err)
		return
	}
	settings, err := models.GetOrCreateUserSettings(n.db, userID)
	if err != nil {
		log.Printf("[Mail] completion notify: settings lookup for user %d failed: %v", userID, err)
		return
	}
	if !settings.NotifyOnComplete {
		return
	}

	generationUUID, _ := props["generation"].(string)
	subject := "Your portrait generation is ready"
	body := fmt.Sprintf("<p>Your generation <strong>%s</strong> finished successfully.</p>", generationUUID)
	if event == events.EventGenerationFailed {
		subject = "Your portrait generation failed"
		body = fmt.Sprintf("<p>Your generation <strong>%s</strong> could not be completed. The spent credits were returned to your balance.</p>", generationUUID)
	}

	go func(to, subject, body string) {
		if err := SendMail(to, subject, body); err != nil {
			log.Printf("[Mail] completion notify: send to %s failed: %v", to, err)
		}
	}(user.Email, subject, body)
}

package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	conndomain "mailguard-backend/internal/connection/domain"
	emaildomain "mailguard-backend/internal/email/domain"

	"github.com/rs/zerolog"
)

const (
	labelInbox  = "INBOX"
	labelUnread = "UNREAD"
	labelTrash  = "TRASH"
)

// reservedLabels are system labels a classification must never resolve to.
var reservedLabels = map[string]bool{
	"TRASH":     true,
	"SPAM":      true,
	"IMPORTANT": true,
	"STARRED":   true,
	"SENT":      true,
	"DRAFT":     true,
	"INBOX":     true,
	"UNREAD":    true,
}

// Gmail user-created labels always carry the Label_ prefix.
var gmailUserLabelPattern = regexp.MustCompile(`^Label_[A-Za-z0-9_-]+$`)

// labelMutator implements LabelMutator interface
type labelMutator struct {
	providers map[string]MailProvider
	verify    bool
	log       zerolog.Logger
}

// NewLabelMutator creates a new instance of labelMutator. When verify is set,
// a read-back call after each mutation logs (but never fails on) mismatches
// between expected and actual final label state.
func NewLabelMutator(providers map[string]MailProvider, verify bool, log zerolog.Logger) LabelMutator {
	return &labelMutator{
		providers: providers,
		verify:    verify,
		log:       log,
	}
}

// MoveMessage applies the label mutation for a classification. All checks run
// before any provider call; a violation aborts with no mutation issued.
func (m *labelMutator) MoveMessage(ctx context.Context, provider, accessToken, providerMessageID string, classification emaildomain.Classification, mapping conndomain.LabelMap) (*MoveResult, error) {
	target, ok := mapping[string(classification)]
	if !ok || target == "" {
		return nil, fmt.Errorf("classification %q: %w", classification, ErrNoLabelMapping)
	}

	if err := validateTargetLabel(provider, target); err != nil {
		return nil, err
	}

	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	behavior := classification.Behavior()
	addLabels := []string{target}
	var removeLabels []string
	if behavior.KeepInInbox {
		// Adding INBOX explicitly defends against the provider's default
		// archive-on-label-change behavior.
		addLabels = append(addLabels, labelInbox)
	} else {
		removeLabels = append(removeLabels, labelInbox)
	}
	if behavior.MarkRead {
		removeLabels = append(removeLabels, labelUnread)
	}

	// The remove set is restricted to exactly {INBOX, UNREAD}.
	for _, id := range removeLabels {
		if id != labelInbox && id != labelUnread {
			return nil, fmt.Errorf("attempted removal of label %q: %w", id, ErrLabelSafety)
		}
	}

	finalLabels, err := p.ModifyLabels(ctx, accessToken, providerMessageID, addLabels, removeLabels)
	if err != nil {
		return nil, fmt.Errorf("modify labels for message %s: %w", providerMessageID, err)
	}

	if hasLabel(finalLabels, labelTrash) {
		// The provider (or a concurrent rule) trashed the message despite not
		// being asked to. Compensate immediately.
		m.log.Warn().
			Str("message_id", providerMessageID).
			Str("classification", string(classification)).
			Msg("provider moved message to trash; issuing compensating mutation")

		var compensateAdd []string
		if behavior.KeepInInbox {
			compensateAdd = []string{labelInbox}
		}
		finalLabels, err = p.ModifyLabels(ctx, accessToken, providerMessageID, compensateAdd, []string{labelTrash})
		if err != nil {
			return nil, fmt.Errorf("message %s landed in trash and compensation failed (%v): %w", providerMessageID, err, ErrLabelSafety)
		}
	}

	if m.verify {
		m.verifyOutcome(ctx, p, accessToken, providerMessageID, target, behavior)
	}

	return &MoveResult{
		KeptInInbox: behavior.KeepInInbox,
		FinalLabels: finalLabels,
	}, nil
}

func (m *labelMutator) verifyOutcome(ctx context.Context, p MailProvider, accessToken, providerMessageID, target string, behavior emaildomain.LabelBehavior) {
	labels, err := p.GetLabels(ctx, accessToken, providerMessageID)
	if err != nil {
		m.log.Debug().Err(err).Str("message_id", providerMessageID).Msg("label read-back failed")
		return
	}

	if !hasLabel(labels, target) {
		m.log.Warn().Str("message_id", providerMessageID).Str("label", target).Msg("read-back missing expected label")
	}
	if hasLabel(labels, labelInbox) != behavior.KeepInInbox {
		m.log.Warn().Str("message_id", providerMessageID).Bool("expected_inbox", behavior.KeepInInbox).Msg("read-back inbox state differs from expected")
	}
}

// validateTargetLabel enforces the hard invariant: the resolved label must
// not be a reserved system label and must look like a user-created label.
func validateTargetLabel(provider, target string) error {
	if reservedLabels[strings.ToUpper(target)] {
		return fmt.Errorf("label mapping resolves to reserved label %q: %w", target, ErrLabelSafety)
	}
	if provider == conndomain.ProviderGoogle && !gmailUserLabelPattern.MatchString(target) {
		return fmt.Errorf("label %q does not match the user-label shape: %w", target, ErrLabelSafety)
	}
	return nil
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}

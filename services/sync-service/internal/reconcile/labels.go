package reconcile

import (
	"time"

	"github.com/stoik/mailroom/internal/models"
)

// labelRule maps a set of provider labels to a local classification
type labelRule struct {
	any   []models.SysLabel
	label models.EmailLabel
}

// labelRules are evaluated in order; the first rule with a matching label wins
var labelRules = []labelRule{
	{any: []models.SysLabel{models.LabelInbox, models.LabelImportant}, label: models.EmailLabelInbox},
	{any: []models.SysLabel{models.LabelSent}, label: models.EmailLabelSent},
	{any: []models.SysLabel{models.LabelDraft}, label: models.EmailLabelDraft},
	{any: []models.SysLabel{models.LabelTrash}, label: models.EmailLabelTrash},
}

// Classify derives the single local label of an email from its sysLabels.
// Emails matching no rule are classified as inbox.
func Classify(labels []models.SysLabel) models.EmailLabel {
	for _, rule := range labelRules {
		for _, want := range rule.any {
			if hasLabel(labels, want) {
				return rule.label
			}
		}
	}
	return models.EmailLabelInbox
}

// IsDeleted reports whether the provider moved the email to trash
func IsDeleted(labels []models.SysLabel) bool {
	return hasLabel(labels, models.LabelTrash)
}

func hasLabel(labels []models.SysLabel, want models.SysLabel) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

// DeriveThreadStatus computes the folder flags and deletion state of a thread
// from its member emails. Folder flags follow the non-deleted emails: inbox
// wins over draft, and sent is the fallback. The thread is deleted when no
// member is both non-deleted and non-trash. now is used as the deletion time;
// stores keep the first deletion time while the thread stays deleted.
func DeriveThreadStatus(states []models.ThreadEmailState, now time.Time) models.ThreadStatus {
	var inbox, draft, active bool
	for _, s := range states {
		if s.IsDeleted {
			continue
		}
		switch s.EmailLabel {
		case models.EmailLabelInbox:
			inbox = true
		case models.EmailLabelDraft:
			draft = true
		}
		if s.EmailLabel != models.EmailLabelTrash {
			active = true
		}
	}

	var status models.ThreadStatus
	switch {
	case inbox:
		status.InboxStatus = true
	case draft:
		status.DraftStatus = true
	default:
		status.SentStatus = true
	}

	if !active {
		status.IsDeleted = true
		deletedAt := now.UTC()
		status.DeletedAt = &deletedAt
	}

	return status
}

// Package mail is the NotificationSink boundary: the core hands it a
// template id, a context and the resolved recipients, and never treats a
// delivery failure as fatal to the state change that caused it.
package mail

import (
	"context"
)

// Template ids known to the renderers.
const (
	TemplateEntrySubmitted  = "entry_submitted"
	TemplateEntryConfirmed  = "entry_confirmed"
	TemplateEntryWithdrawn  = "entry_withdrawn"
	TemplateSelectionResult = "selection_results"

	TemplatePaymentProcessed = "payment_processed"
	TemplatePaymentRefunded  = "payment_refunded"

	TemplateSelectedWarning       = "selected_payment_warning"
	TemplateSelectedAutoWithdrawn = "selected_auto_withdrawn"
	TemplateClosedAutoWithdrawn   = "closed_auto_withdrawn"
	TemplateClosingWarning        = "closing_warning"
	TemplateIncompleteReminder    = "incomplete_entry_reminder"
	TemplateSchedulerSummary      = "scheduler_summary"

	TemplateSupportAlert = "support_alert"
)

// Message is one email addressed to concrete addresses.
type Message struct {
	Template string
	Data     map[string]any
	To       []string
	Cc       []string
	Bcc      []string
}

// Sink delivers messages. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

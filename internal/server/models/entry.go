// Package models defines the server-side records persisted in the database:
// competition entries, the payment ledger and the notification journal.
package models

import (
	"fmt"
	"time"
)

// Status is the selection stage of an entry. Withdrawal is tracked by the
// separate Entry.Withdrawn flag so the last real status survives it.
type Status string

const (
	StatusInProgress        Status = "in_progress"
	StatusSubmitted         Status = "submitted"
	StatusSelected          Status = "selected"
	StatusSelectedConfirmed Status = "selected_confirmed"
	StatusRejected          Status = "rejected"
)

var statusLabels = map[Status]string{
	StatusInProgress:        "In Progress",
	StatusSubmitted:         "Submitted",
	StatusSelected:          "Selected",
	StatusSelectedConfirmed: "Selected - confirmed",
	StatusRejected:          "Rejected",
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Category is the competition category code.
type Category string

const (
	CategoryBeginner     Category = "BEG"
	CategoryIntermediate Category = "INT"
	CategoryAdvanced     Category = "ADV"
	CategorySemiPro      Category = "SMP"
	CategoryProfessional Category = "PRO"
	CategoryMens         Category = "MEN"
	CategoryDoubles      Category = "DOU"
)

var categoryLabels = map[Category]string{
	CategoryBeginner:     "Beginner",
	CategoryIntermediate: "Intermediate",
	CategoryAdvanced:     "Advanced",
	CategorySemiPro:      "Semi-Pro",
	CategoryProfessional: "Professional",
	CategoryMens:         "Mens",
	CategoryDoubles:      "Doubles",
}

// RetiredCategories are kept so old entries still load, but new entries
// cannot use them.
var RetiredCategories = map[Category]bool{
	CategoryMens: true,
}

func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// Entry is a user's registration for one category in one entry year.
type Entry struct {
	ID        int64
	EntryRef  string
	EntryYear string
	UserID    int64
	Category  Category
	Status    Status
	Withdrawn bool

	StageName    string
	Song         string
	VideoURL     string
	Biography    string
	PartnerName  string
	PartnerEmail string

	VideoEntryPaid    bool
	SelectedEntryPaid bool
	WithdrawalFeePaid bool

	DateSubmitted *time.Time

	Notified           bool
	NotifiedDate       *time.Time
	ReminderSent       bool
	ClosingWarningSent bool
	InfoReminderSent   bool
}

// Paid reports the ledger flag for the given payment type.
func (e *Entry) Paid(t PaymentType) bool {
	switch t {
	case PaymentVideo:
		return e.VideoEntryPaid
	case PaymentSelected:
		return e.SelectedEntryPaid
	case PaymentWithdrawal:
		return e.WithdrawalFeePaid
	}
	return false
}

// SetPaid sets the ledger flag for the given payment type.
func (e *Entry) SetPaid(t PaymentType, paid bool) {
	switch t {
	case PaymentVideo:
		e.VideoEntryPaid = paid
	case PaymentSelected:
		e.SelectedEntryPaid = paid
	case PaymentWithdrawal:
		e.WithdrawalFeePaid = paid
	}
}

// MissingFields lists the fields a submission still lacks.
func (e *Entry) MissingFields() []string {
	var missing []string
	if !e.Category.Valid() {
		missing = append(missing, "category")
	}
	if e.VideoURL == "" {
		missing = append(missing, "video_url")
	}
	if e.Biography == "" {
		missing = append(missing, "biography")
	}
	if e.Category == CategoryDoubles {
		if e.PartnerName == "" {
			missing = append(missing, "partner_name")
		}
		if e.PartnerEmail == "" {
			missing = append(missing, "partner_email")
		}
	}
	return missing
}

func (e *Entry) String() string {
	wd := ""
	if e.Withdrawn {
		wd = " (withdrawn)"
	}
	return fmt.Sprintf("%s - %s - %s - %s%s", e.EntryRef, e.Category.Label(), e.EntryYear, e.Status.Label(), wd)
}

// EntryDetails carries the user-editable fields of an entry. It is the
// "draft" input accepted by create/update without promoting the status.
type EntryDetails struct {
	Category     Category
	StageName    string
	Song         string
	VideoURL     string
	Biography    string
	PartnerName  string
	PartnerEmail string
}

// Apply copies the details onto e.
func (d EntryDetails) Apply(e *Entry) {
	e.Category = d.Category
	e.StageName = d.StageName
	e.Song = d.Song
	e.VideoURL = d.VideoURL
	e.Biography = d.Biography
	e.PartnerName = d.PartnerName
	e.PartnerEmail = d.PartnerEmail
}

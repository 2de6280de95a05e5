package services

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/logging"
	"github.com/dmitrijs2005/entryledger/internal/server/entrystate"
	"github.com/dmitrijs2005/entryledger/internal/server/mail"
	"github.com/dmitrijs2005/entryledger/internal/server/metrics"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

// Addresses are the fixed staff mailboxes.
type Addresses struct {
	Organizer string
	Support   string
}

// Dispatcher turns email effects into mail.Messages and sends them. A failed
// delivery is logged, counted and reported to support; it is never returned
// to the caller as a reason to undo the transition that produced it.
type Dispatcher struct {
	sink    mail.Sink
	dir     *Directory
	addr    Addresses
	log     logging.Logger
	metrics *metrics.Collector
}

func NewDispatcher(sink mail.Sink, dir *Directory, addr Addresses, log logging.Logger, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{sink: sink, dir: dir, addr: addr, log: log, metrics: m}
}

// Dispatch sends every email for entry. The returned error wraps
// common.ErrNotificationDelivery and is informational only.
func (d *Dispatcher) Dispatch(ctx context.Context, entry models.Entry, emails []*entrystate.Email) error {
	if len(emails) == 0 {
		return nil
	}

	user, err := d.dir.User(ctx, entry.UserID)
	if err != nil {
		d.log.Warn(ctx, "recipient lookup failed", "entry_id", entry.ID, "user_id", entry.UserID, "error", err)
		user = nil
	}

	var errs []error
	for _, e := range emails {
		msg := mail.Message{Template: e.Template, Data: maps.Clone(e.Data)}
		if msg.Data == nil {
			msg.Data = map[string]any{}
		}
		msg.Data["user_name"] = userName(user, entry)
		msg.To = d.resolve(user, e.To)
		msg.Cc = d.resolve(user, e.Cc)

		if len(msg.To) == 0 {
			err := fmt.Errorf("%w: %s for entry %d: no recipient address", common.ErrNotificationDelivery, e.Template, entry.ID)
			d.failed(ctx, msg, entry.ID, err)
			errs = append(errs, err)
			continue
		}
		if err := d.send(ctx, msg, entry.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Alert emails support about a problem that needs a human.
func (d *Dispatcher) Alert(ctx context.Context, problem string, data map[string]any) error {
	msg := mail.Message{
		Template: mail.TemplateSupportAlert,
		Data:     maps.Clone(data),
		To:       []string{d.addr.Support},
	}
	if msg.Data == nil {
		msg.Data = map[string]any{}
	}
	msg.Data["problem"] = problem
	d.log.Warn(ctx, "support alert", "problem", problem)
	return d.send(ctx, msg, 0)
}

// Staff emails support with the organizer in copy.
func (d *Dispatcher) Staff(ctx context.Context, template string, data map[string]any) error {
	return d.send(ctx, mail.Message{
		Template: template,
		Data:     data,
		To:       []string{d.addr.Support},
		Cc:       []string{d.addr.Organizer},
	}, 0)
}

func (d *Dispatcher) send(ctx context.Context, msg mail.Message, entryID int64) error {
	if err := d.sink.Send(ctx, msg); err != nil {
		err = fmt.Errorf("%w: %s: %v", common.ErrNotificationDelivery, msg.Template, err)
		d.failed(ctx, msg, entryID, err)
		return err
	}
	return nil
}

func (d *Dispatcher) failed(ctx context.Context, msg mail.Message, entryID int64, err error) {
	d.metrics.MailFailed(msg.Template)
	d.log.Error(ctx, "mail delivery failed", "template", msg.Template, "entry_id", entryID, "error", err)
	if msg.Template == mail.TemplateSupportAlert {
		return
	}
	_ = d.Alert(ctx, fmt.Sprintf("could not send %s email", msg.Template), map[string]any{
		"entry_id": entryID,
		"error":    err.Error(),
	})
}

func (d *Dispatcher) resolve(user *models.User, rs []entrystate.Recipient) []string {
	var out []string
	for _, r := range rs {
		switch r {
		case entrystate.RecipientUser:
			if user != nil && user.Email != "" {
				out = append(out, user.Email)
			}
		case entrystate.RecipientOrganizer:
			out = append(out, d.addr.Organizer)
		case entrystate.RecipientSupport:
			out = append(out, d.addr.Support)
		}
	}
	return out
}

func userName(u *models.User, e models.Entry) string {
	if u == nil {
		return fmt.Sprintf("user %d", e.UserID)
	}
	return u.FullName()
}

package email

import (
	"context"
	"fmt"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
)

// Notifier renders the transactional templates and hands them to a Sender.
// Errors are returned wrapped in apperrors.ErrEmailDelivery; callers log them and move on.
type Notifier struct {
	sender   Sender
	renderer *Renderer
}

func NewNotifier(sender Sender) (*Notifier, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	return &Notifier{sender: sender, renderer: renderer}, nil
}

func (n *Notifier) Confirmation(ctx context.Context, to string, data TemplateData) error {
	return n.send(ctx, to, TemplateConfirmation, "", data)
}

func (n *Notifier) PaymentApproved(ctx context.Context, to string, data TemplateData) error {
	return n.send(ctx, to, TemplatePaymentApproved, data.Reference, data)
}

func (n *Notifier) PaymentFailed(ctx context.Context, to string, data TemplateData) error {
	return n.send(ctx, to, TemplatePaymentFailed, data.Reference, data)
}

func (n *Notifier) ExpirationReminder(ctx context.Context, to string, data TemplateData) error {
	return n.send(ctx, to, TemplateExpirationReminder, "", data)
}

func (n *Notifier) send(ctx context.Context, to, name, subjectArg string, data TemplateData) error {
	if to == "" {
		return apperrors.ErrEmailDelivery.Wrap(fmt.Errorf("no recipient for %s", name))
	}

	html, err := n.renderer.Render(name, data)
	if err != nil {
		return apperrors.ErrEmailDelivery.Wrap(err)
	}

	if err := n.sender.Send(ctx, to, Subject(name, subjectArg), html); err != nil {
		return apperrors.ErrEmailDelivery.Wrap(err)
	}
	return nil
}

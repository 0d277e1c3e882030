package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/markers"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultFrom is the sender used when none is configured. It works with
// any Resend account without a verified domain.
const DefaultFrom = "onboarding@resend.dev"

// ErrNoAccounts is returned when there is something to send but no
// account to send it with.
var ErrNoAccounts = errors.New("no email accounts configured")

// Message is one email.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message through an email provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFactory creates the sender for one API key.
type SenderFactory func(apiKey string) Sender

// Account pairs provider credentials with the address they deliver to.
type Account struct {
	APIKey    string
	Recipient string
}

// SendError records a failed delivery to one recipient.
type SendError struct {
	Recipient string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Recipient, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Batch is the set of new listings from one site. Markers may be nil when
// the site has no markers configured.
type Batch struct {
	Site      string
	SiteTitle string
	Listings  []listing.Listing
	Markers   *markers.Detector
}

// Report summarises one notification attempt.
type Report struct {
	Listings  int      `json:"listings"`
	Attempted int      `json:"attempted"`
	Delivered []string `json:"delivered,omitempty"`
	Errors    []error  `json:"-"`
}

// Err combines every delivery failure, or returns nil.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	return multierr.Combine(r.Errors...)
}

// Notifier sends one aggregated message per run to every configured
// account.
type Notifier struct {
	from     string
	accounts []Account
	factory  SenderFactory
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a notifier. An empty from uses DefaultFrom; a nil logger
// disables logging.
func New(from string, accounts []Account, factory SenderFactory, logger *zap.Logger) *Notifier {
	if from == "" {
		from = DefaultFrom
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		from:     from,
		accounts: accounts,
		factory:  factory,
		logger:   logger.Named("notify"),
		now:      time.Now,
	}
}

// Accounts returns the configured accounts.
func (n *Notifier) Accounts() []Account {
	return n.accounts
}

// Notify renders the batches into a single message and sends it once per
// account. A failing account does not stop delivery to the others; every
// failure is collected in the report and combined into the returned
// error. Nothing is sent when the batches contain no listings.
func (n *Notifier) Notify(ctx context.Context, batches []Batch) (*Report, error) {
	report := &Report{}
	for _, b := range batches {
		report.Listings += len(b.Listings)
	}
	if report.Listings == 0 {
		return report, nil
	}
	if len(n.accounts) == 0 {
		return report, ErrNoAccounts
	}

	content, err := Render(batches, n.now())
	if err != nil {
		return report, err
	}

	for _, acct := range n.accounts {
		report.Attempted++

		msg := Message{
			From:    n.from,
			To:      []string{acct.Recipient},
			Subject: content.Subject,
			HTML:    content.HTML,
			Text:    content.Text,
		}

		if err := n.factory(acct.APIKey).Send(ctx, msg); err != nil {
			n.logger.Error("failed to send notification",
				zap.String("recipient", acct.Recipient), zap.Error(err))
			report.Errors = append(report.Errors, &SendError{Recipient: acct.Recipient, Err: err})
			continue
		}

		n.logger.Info("notification sent",
			zap.String("recipient", acct.Recipient), zap.Int("listings", report.Listings))
		report.Delivered = append(report.Delivered, acct.Recipient)
	}

	return report, report.Err()
}

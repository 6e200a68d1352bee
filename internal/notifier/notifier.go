package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ibeckermayer/docprobe/internal/config"
	"github.com/ibeckermayer/docprobe/internal/logging"
	"github.com/ibeckermayer/docprobe/internal/notifier/providers"
	"github.com/ibeckermayer/docprobe/internal/report"
)

// Notifier decides whether a run report goes out and hands it to a Sender
type Notifier struct {
	sender        Sender
	to            string
	onlyOnFailure bool
}

// Sender defines the interface for email sending
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, plainBody string) error
}

// New creates a new notifier with the given sender
func New(sender Sender, to string, onlyOnFailure bool) *Notifier {
	return &Notifier{sender: sender, to: to, onlyOnFailure: onlyOnFailure}
}

// NewFromConfig creates a notifier based on configuration. It returns nil
// and no error when email is disabled.
func NewFromConfig(cfg config.EmailConfig) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.ToAddr == "" {
		return nil, fmt.Errorf("email enabled without a to_address")
	}

	var sender Sender
	switch cfg.Provider {
	case "smtp", "":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	return New(sender, cfg.ToAddr, cfg.OnlyOnFailure), nil
}

// Notify sends r unless it passed and only failures are reported. It
// reports whether an email was sent.
func (n *Notifier) Notify(ctx context.Context, r *report.Report) (bool, error) {
	logger := logging.FromContext(ctx).With(slog.String("component", "notifier"))
	if n.onlyOnFailure && !r.Failed {
		logger.Debug("run passed, not sending report", "run", r.RunID)
		return false, nil
	}
	if err := n.sender.Send(ctx, n.to, r.Subject, r.HTMLBody, r.PlainBody); err != nil {
		return false, fmt.Errorf("failed to send report for run %d: %w", r.RunID, err)
	}
	logger.Info("report sent", "run", r.RunID, "to", n.to)
	return true, nil
}

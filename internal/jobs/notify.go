package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/aibazaar/backend/internal/models"
)

// NotifyArgs is a queued notification to one account. Enqueued inside the
// same database transaction as the state change it announces, so a rolled
// back transition never notifies anyone.
type NotifyArgs struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
}

func (NotifyArgs) Kind() string { return "notify" }

// AccountLookup resolves the recipient's address.
type AccountLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// NotifyWorker delivers notifications by POSTing them to the configured
// delivery webhook (an email relay in production). With no webhook configured
// the notification is logged and dropped, which keeps local development
// working without a relay.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	accounts   AccountLookup
	webhookURL string
	httpClient *http.Client
	log        *slog.Logger
}

func NewNotifyWorker(accounts AccountLookup, webhookURL string, log *slog.Logger) *NotifyWorker {
	if log == nil {
		log = slog.Default()
	}
	return &NotifyWorker{
		accounts:   accounts,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	args := job.Args

	acc, err := w.accounts.GetByID(ctx, args.RecipientID)
	if err != nil {
		return fmt.Errorf("resolve recipient %s: %w", args.RecipientID, err)
	}

	if w.webhookURL == "" {
		w.log.Info("notification (no delivery webhook configured)",
			"recipient", acc.Email, "subject", args.Subject)
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"to":      acc.Email,
		"subject": args.Subject,
		"body":    args.Body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling delivery webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delivery webhook returned status %d", resp.StatusCode)
	}
	return nil
}

package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// ReminderScanArgs triggers one scan for escrow deadline reminders. Scheduled
// as a periodic job; the scan itself is idempotent because the sent marker is
// durable, so overlapping or repeated scans are harmless.
type ReminderScanArgs struct{}

func (ReminderScanArgs) Kind() string { return "escrow_reminder_scan" }

// ReminderSender is the slice of the escrow service the scan needs.
type ReminderSender interface {
	SendDueReminders(ctx context.Context, now time.Time) (int, error)
}

type ReminderScanWorker struct {
	river.WorkerDefaults[ReminderScanArgs]
	escrow ReminderSender
	log    *slog.Logger
}

func NewReminderScanWorker(escrow ReminderSender, log *slog.Logger) *ReminderScanWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReminderScanWorker{escrow: escrow, log: log}
}

func (w *ReminderScanWorker) Work(ctx context.Context, _ *river.Job[ReminderScanArgs]) error {
	sent, err := w.escrow.SendDueReminders(ctx, time.Now())
	if err != nil {
		return err
	}
	if sent > 0 {
		w.log.Info("escrow reminders sent", "count", sent)
	}
	return nil
}

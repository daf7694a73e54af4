// Package alerts decides, once a day, which return-deadline reminders are
// due and records each one exactly once.
package alerts

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"return-radar-service/internal/db"
	"return-radar-service/internal/notify"
	"return-radar-service/internal/parser"
)

const AlertTypeExpired = "expired"

// Store is the persistence the engine needs.
type Store interface {
	ListAlertCandidates(ctx context.Context) ([]db.AlertCandidate, error)
	RecordAlertOnce(ctx context.Context, alert *db.Alert, dispatch func() error) (bool, error)
}

// Summary counts what one run did.
type Summary struct {
	RunID     string    `json:"run_id"`
	Date      time.Time `json:"date"`
	Evaluated int       `json:"evaluated"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
}

type Engine struct {
	store    Store
	notifier notify.Notifier
	composer *Composer
	log      zerolog.Logger
}

func NewEngine(store Store, notifier notify.Notifier, composer *Composer, log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		composer: composer,
		log:      log.With().Str("component", "alerts").Logger(),
	}
}

// AlertType returns the alert due for a purchase with daysLeft days until
// its deadline. The first offset equal to daysLeft wins; "expired" only
// fires on the day right after the deadline.
func AlertType(daysLeft int, offsets []int) (string, bool) {
	for _, offset := range offsets {
		if daysLeft == offset {
			return fmt.Sprintf("deadline_%dd", offset), true
		}
	}
	if daysLeft == -1 {
		return AlertTypeExpired, true
	}
	return "", false
}

// Run evaluates every active purchase with a known deadline against its
// owner's calendar date at now. Alerts already written stay written if the
// run is cancelled midway.
func (e *Engine) Run(ctx context.Context, now time.Time) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), Date: parser.DateOf(now.UTC())}
	log := e.log.With().Str("run_id", summary.RunID).Str("date", summary.Date.Format("2006-01-02")).Logger()

	candidates, err := e.store.ListAlertCandidates(ctx)
	if err != nil {
		return summary, err
	}
	log.Info().Int("candidates", len(candidates)).Msg("alert run started")

	zones := map[string]*time.Location{}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Msg("alert run cancelled")
			return summary, err
		}
		summary.Evaluated++

		if belowMinimum(c) {
			summary.Skipped++
			continue
		}

		p := c.Purchase
		localToday := parser.DateOf(now.In(e.location(zones, c.Preferences.Timezone)))
		daysLeft := parser.DaysBetween(localToday, *p.ReturnDeadline)
		alertType, due := AlertType(daysLeft, c.Preferences.AlertOffsetsDays)
		if !due {
			continue
		}

		msg, err := e.composer.Compose(c.UserEmail, p, max(0, daysLeft))
		if err != nil {
			summary.Failed++
			log.Error().Err(err).Int64("purchase_id", p.ID).Str("alert_type", alertType).Msg("failed to compose alert")
			continue
		}

		alert := &db.Alert{
			PurchaseID:   p.ID,
			UserID:       p.UserID,
			AlertType:    alertType,
			ScheduledFor: localToday,
			Channel:      db.ChannelEmail,
		}
		var sendErr error
		created, err := e.store.RecordAlertOnce(ctx, alert, func() error {
			sendErr = e.notifier.Send(ctx, msg)
			return sendErr
		})
		if err != nil {
			return summary, fmt.Errorf("failed to record alert for purchase %d: %w", p.ID, err)
		}

		plog := log.With().Int64("purchase_id", p.ID).Str("alert_type", alertType).Logger()
		switch {
		case !created:
			summary.Skipped++
			plog.Debug().Msg("alert already recorded")
		case alert.Status == db.AlertSent:
			summary.Sent++
			plog.Info().Int("days_left", daysLeft).Msg("alert sent")
		default:
			summary.Failed++
			plog.Warn().Err(sendErr).Msg("alert send failed")
		}
	}

	log.Info().
		Int("evaluated", summary.Evaluated).
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("alert run complete")
	return summary, nil
}

// location resolves a user's timezone, falling back to UTC for names that
// no longer load.
func (e *Engine) location(cache map[string]*time.Location, name string) *time.Location {
	if loc, ok := cache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		e.log.Warn().Err(err).Str("timezone", name).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}
	cache[name] = loc
	return loc
}

// belowMinimum applies the user's minimum purchase amount. Purchases with
// an unknown or zero total are never filtered.
func belowMinimum(c db.AlertCandidate) bool {
	minAmount := c.Preferences.MinPurchaseAmount
	total := c.Purchase.TotalAmount
	return minAmount != nil && *minAmount > 0 && total != nil && *total > 0 && *total < *minAmount
}

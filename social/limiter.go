// Package social enforces the monthly transparency-post budget. Usage lives
// under a single state-store key and resets in place on the first access of
// a new month; the emergency category bypasses every cap.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/store"
)

// UsageKey is the state-store key of the monthly usage record.
const UsageKey = "social:post:monthly:usage"

// Category classifies a transparency post.
type Category string

// Post categories.
const (
	CategoryProof     Category = "proof"
	CategoryStats     Category = "stats"
	CategoryHealth    Category = "health"
	CategoryEmergency Category = "emergency"
)

// MonthlyTotalCap bounds posts across all categories per month.
const MonthlyTotalCap = 1000

// warnFraction of the total cap at which Consume logs a warning.
const warnFraction = 0.9

// Budgets are the per-category monthly allowances. The emergency budget is
// advisory only.
var Budgets = map[Category]int{
	CategoryProof:     740,
	CategoryStats:     30,
	CategoryHealth:    180,
	CategoryEmergency: 50,
}

// usage is the persisted monthly record.
type usage struct {
	Month     string           `json:"month"` // YYYY-MM
	Used      map[Category]int `json:"used"`
	Total     int              `json:"total"`
	LastReset string           `json:"lastReset"`
}

// Limiter tracks the monthly post budget in the state store.
type Limiter struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

// NewLimiter creates a Limiter over the given store.
func NewLimiter(s store.Store) *Limiter {
	return &Limiter{
		store:  s,
		logger: log.Default().Module("social"),
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Allow reports whether a post in the category fits the budget. Emergency
// posts always fit.
func (l *Limiter) Allow(ctx context.Context, cat Category) bool {
	if cat == CategoryEmergency {
		return true
	}
	u := l.load(ctx)
	budget, ok := Budgets[cat]
	if !ok {
		l.logger.Warn("unknown post category refused", "category", string(cat))
		return false
	}
	return u.Used[cat] < budget && u.Total < MonthlyTotalCap
}

// Consume records a post against the budget and persists the new usage.
// Crossing 90% of the monthly total logs a warning.
func (l *Limiter) Consume(ctx context.Context, cat Category) error {
	u := l.load(ctx)
	u.Used[cat]++
	u.Total++

	if u.Total >= int(warnFraction*MonthlyTotalCap) {
		l.logger.Warn("monthly post budget nearly exhausted",
			"total", u.Total, "cap", MonthlyTotalCap)
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("social: marshal usage: %w", err)
	}
	return l.store.Set(ctx, UsageKey, payload, 0)
}

// Usage returns the current month's counters.
func (l *Limiter) Usage(ctx context.Context) (total int, perCategory map[Category]int) {
	u := l.load(ctx)
	return u.Total, u.Used
}

// load reads the record, resetting it in place when the month rolled over.
// Absence and malformed payloads start a fresh month.
func (l *Limiter) load(ctx context.Context) *usage {
	month := l.now().UTC().Format("2006-01")
	fresh := &usage{
		Month:     month,
		Used:      make(map[Category]int),
		LastReset: l.now().UTC().Format(time.RFC3339),
	}

	raw, ok, err := l.store.Get(ctx, UsageKey)
	if err != nil {
		l.logger.Warn("usage read failed, assuming fresh month", "err", err.Error())
		return fresh
	}
	if !ok {
		return fresh
	}
	var u usage
	if err := json.Unmarshal(raw, &u); err != nil {
		l.logger.Warn("malformed usage record reset")
		return fresh
	}
	if u.Month != month {
		l.logger.Info("monthly post budget reset", "from", u.Month, "to", month)
		return fresh
	}
	if u.Used == nil {
		u.Used = make(map[Category]int)
	}
	return &u
}

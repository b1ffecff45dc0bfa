package social

import (
	"context"
	"testing"
	"time"

	"github.com/aegis-labs/aegis/store"
)

func newTestLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	ms := store.NewMemoryStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ms.SetClock(func() time.Time { return now })

	l := NewLimiter(ms)
	l.SetClock(func() time.Time { return now })
	return l, &now
}

func TestAllowFreshMonth(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	for _, cat := range []Category{CategoryProof, CategoryStats, CategoryHealth, CategoryEmergency} {
		if !l.Allow(ctx, cat) {
			t.Errorf("fresh month refused %s", cat)
		}
	}
}

func TestCategoryBudgetExhaustion(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < Budgets[CategoryStats]; i++ {
		if !l.Allow(ctx, CategoryStats) {
			t.Fatalf("refused stats post %d within budget", i)
		}
		if err := l.Consume(ctx, CategoryStats); err != nil {
			t.Fatal(err)
		}
	}
	if l.Allow(ctx, CategoryStats) {
		t.Fatal("allowed stats post over category budget")
	}
	// Other categories are unaffected.
	if !l.Allow(ctx, CategoryHealth) {
		t.Fatal("health budget wrongly blocked by stats exhaustion")
	}
}

func TestMonthlyTotalCap(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	// proof (740) + health (180) + stats (30) = 950; emergency consumption
	// pushes the total to the cap.
	for cat, budget := range Budgets {
		if cat == CategoryEmergency {
			continue
		}
		for i := 0; i < budget; i++ {
			l.Consume(ctx, cat)
		}
	}
	for i := 0; i < MonthlyTotalCap-950; i++ {
		l.Consume(ctx, CategoryEmergency)
	}

	total, _ := l.Usage(ctx)
	if total != MonthlyTotalCap {
		t.Fatalf("total = %d, want %d", total, MonthlyTotalCap)
	}
	if l.Allow(ctx, CategoryProof) {
		t.Fatal("allowed post at the monthly total cap")
	}
	// Emergency bypasses the total cap.
	if !l.Allow(ctx, CategoryEmergency) {
		t.Fatal("emergency post blocked by total cap")
	}
}

func TestEmergencyBypassesOwnBudget(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < Budgets[CategoryEmergency]+10; i++ {
		if !l.Allow(ctx, CategoryEmergency) {
			t.Fatalf("emergency post %d refused", i)
		}
		l.Consume(ctx, CategoryEmergency)
	}
}

func TestMonthRolloverResets(t *testing.T) {
	l, now := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < Budgets[CategoryStats]; i++ {
		l.Consume(ctx, CategoryStats)
	}
	if l.Allow(ctx, CategoryStats) {
		t.Fatal("stats budget not exhausted")
	}

	*now = now.AddDate(0, 1, 0)
	if !l.Allow(ctx, CategoryStats) {
		t.Fatal("budget not reset in the new month")
	}
	total, _ := l.Usage(ctx)
	if total != 0 {
		t.Fatalf("total = %d after rollover, want 0", total)
	}
}

func TestUnknownCategoryRefused(t *testing.T) {
	l, _ := newTestLimiter(t)
	if l.Allow(context.Background(), Category("memes")) {
		t.Fatal("unknown category allowed")
	}
}

func TestUsagePersistsAcrossInstances(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	l1 := NewLimiter(ms)
	l1.SetClock(func() time.Time { return now })
	l1.Consume(ctx, CategoryProof)
	l1.Consume(ctx, CategoryProof)

	l2 := NewLimiter(ms)
	l2.SetClock(func() time.Time { return now })
	total, perCat := l2.Usage(ctx)
	if total != 2 || perCat[CategoryProof] != 2 {
		t.Fatalf("usage = %d %v, want 2 proof posts", total, perCat)
	}
}

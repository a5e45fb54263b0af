package ops

import (
	"context"
	"testing"
	"time"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
)

func TestRollover(t *testing.T) {
	st := newTestStore(t)
	cfg := config.DefaultConfig()
	ctx := context.Background()

	shareAt(t, st, cfg, day1, "A")
	tb := shareAt(t, st, cfg, day1.Add(time.Minute), "B")
	m := findMatch(t, st, cfg, "D").Match

	// Same day: nothing to expire
	out, err := Rollover(ctx, st, cfg)
	if err != nil {
		t.Fatalf("Rollover failed: %v", err)
	}
	if out.Expired != 0 || out.MatchDate != "2026-03-10" {
		t.Errorf("same-day rollover = %+v", out)
	}

	setNow(t, day1.Add(24*time.Hour))
	out, err = Rollover(ctx, st, cfg)
	if err != nil {
		t.Fatalf("Rollover failed: %v", err)
	}
	if out.Expired != 1 || out.MatchDate != "2026-03-11" {
		t.Errorf("next-day rollover = %+v", out)
	}

	got, err := st.GetMatch(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if got.Status != domain.MatchExpired {
		t.Errorf("Status = %s, want expired", got.Status)
	}

	// B's unmatched trouble carries over into the new day
	b, err := st.GetTrouble(ctx, tb.ID)
	if err != nil {
		t.Fatalf("GetTrouble failed: %v", err)
	}
	if b.Status != domain.TroubleActive {
		t.Errorf("carried-over trouble status = %s, want active", b.Status)
	}

	cur, err := CurrentMatch(ctx, st, cfg, CurrentMatchInput{UserID: "D"})
	if err != nil {
		t.Fatalf("CurrentMatch failed: %v", err)
	}
	if cur.Match != nil {
		t.Error("expired match should not be current")
	}
}

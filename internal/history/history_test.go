package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jgoulah/mobiletracker/internal/config"
	"github.com/jgoulah/mobiletracker/pkg/models"
)

func sampleRecords() []models.UsageRecord {
	base := time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)
	return []models.UsageRecord{
		models.NewRecord(models.Snapshot{UsageGB: 5.00, PlanGB: 20, CycleStart: "Jan 1", CycleEnd: "Jan 31"}, base),
		models.NewRecord(models.Snapshot{UsageGB: 7.50, PlanGB: 20}, base.AddDate(0, 0, 7)),
		models.NewRecord(models.Snapshot{UsageGB: 1.25}, base.AddDate(0, 0, 7).Add(time.Hour)),
	}
}

func assertSameRecords(t *testing.T, got, want []models.UsageRecord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if !g.ScrapedAt.Equal(w.ScrapedAt.Time) {
			t.Errorf("[%d] ScrapedAt = %v, want %v", i, g.ScrapedAt.Time, w.ScrapedAt.Time)
		}
		if g.WeekEnding != w.WeekEnding || g.UsageGB != w.UsageGB || g.PlanGB != w.PlanGB ||
			g.PercentUsed != w.PercentUsed || g.CycleStart != w.CycleStart || g.CycleEnd != w.CycleEnd {
			t.Errorf("[%d] = %+v, want %+v", i, g, w)
		}
		if (g.RemainingGB == nil) != (w.RemainingGB == nil) {
			t.Errorf("[%d] RemainingGB nil mismatch: got %v, want %v", i, g.RemainingGB, w.RemainingGB)
		} else if g.RemainingGB != nil && *g.RemainingGB != *w.RemainingGB {
			t.Errorf("[%d] RemainingGB = %v, want %v", i, *g.RemainingGB, *w.RemainingGB)
		}
	}
}

func TestStores_AppendThenLoad(t *testing.T) {
	for _, backend := range []string{config.HistoryBackendJSON, config.HistoryBackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "tracker")
			store, err := Open(backend, dir)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer store.Close()

			want := sampleRecords()
			for _, rec := range want {
				if err := store.Append(rec); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			got, err := store.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertSameRecords(t, got, want)
		})
	}
}

func TestStores_EmptyLoad(t *testing.T) {
	for _, backend := range []string{config.HistoryBackendJSON, config.HistoryBackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			store, err := Open(backend, t.TempDir())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer store.Close()

			for i := 0; i < 2; i++ {
				got, err := store.Load()
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				if got == nil || len(got) != 0 {
					t.Fatalf("Load() = %v, want empty non-nil slice", got)
				}
			}
		})
	}
}

func TestJSONFile_DuplicateWeeksAreKept(t *testing.T) {
	store := NewJSONFile(t.TempDir())
	now := time.Date(2025, 2, 2, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.Append(models.NewRecord(models.Snapshot{UsageGB: float64(i)}, now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i, rec := range got {
		if rec.UsageGB != float64(i) {
			t.Fatalf("record %d UsageGB = %v, order not preserved", i, rec.UsageGB)
		}
	}
}

func TestJSONFile_EmptyFileIsEmptyHistory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := NewJSONFile(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Load() = %v, want empty", got)
	}
}

func TestJSONFile_ReadsLegacyHistory(t *testing.T) {
	dir := t.TempDir()
	legacy := `[
  {
    "scraped_at": "2024-10-06T19:02:11.500123",
    "week_ending": "2024-10-06",
    "usage_gb": 3.5,
    "plan_gb": 10.0,
    "remaining_gb": 6.5,
    "percent_used": 35.0,
    "cycle_start": "Sep 28",
    "cycle_end": "Oct 27"
  }
]`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(legacy), 0600); err != nil {
		t.Fatal(err)
	}

	store := NewJSONFile(dir)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Remaining() != 6.5 || got[0].CycleStart != "Sep 28" {
		t.Fatalf("Load() = %+v", got)
	}

	// Appending keeps the legacy record intact
	if err := store.Append(models.NewRecord(models.Snapshot{UsageGB: 4}, time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err = store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].UsageGB != 3.5 {
		t.Fatalf("after append = %+v", got)
	}
}

func TestJSONFile_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	store := NewJSONFile(dir)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected error for corrupt history")
	}
	if err := store.Append(models.UsageRecord{}); err == nil {
		t.Fatal("Append should refuse to overwrite a corrupt history")
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("csv", t.TempDir()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

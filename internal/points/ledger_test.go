package points

import (
	"testing"
	"time"

	"github.com/Spok95/streampoints/internal/models"
)

func day(s string) time.Time {
	t, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDailyPresence_CollapsesSameDay(t *testing.T) {
	got := DailyPresence([]models.SessionRecord{
		{UserID: "7", Date: time.Date(2026, 10, 10, 9, 0, 0, 0, time.UTC)},
		{UserID: "7", Date: time.Date(2026, 10, 10, 21, 0, 0, 0, time.UTC)},
		{UserID: "7", Date: day("2026-10-11")},
		{UserID: "8", Date: day("2026-10-10")},
	})
	if len(got) != 3 {
		t.Fatalf("presence=%+v", got)
	}
}

func TestMerge_DoesNotIncrementExistingDay(t *testing.T) {
	existing := []models.LedgerEntry{{UserID: "7", Date: day("2026-10-10"), Points: 1}}
	merged, added := Merge(existing, []Presence{
		{UserID: "7", Date: day("2026-10-10")},
		{UserID: "7", Date: day("2026-10-11")},
		{UserID: "7", Date: day("2026-10-11")},
	}, 1)
	if added != 1 || len(merged) != 2 {
		t.Fatalf("added=%d merged=%+v", added, merged)
	}
	if len(existing) != 1 {
		t.Fatal("input slice was modified")
	}
}

func TestPrune_Boundary(t *testing.T) {
	today := day("2026-10-16")
	entries := []models.LedgerEntry{
		{UserID: "1", Date: day("2026-07-18"), Points: 1}, // today-90
		{UserID: "1", Date: day("2026-07-19"), Points: 1},
		{UserID: "1", Date: day("2026-10-16"), Points: 1},
	}
	kept, removed := Prune(entries, today, 90)
	if removed != 1 || len(kept) != 2 || !kept[0].Date.Equal(day("2026-07-19")) {
		t.Fatalf("removed=%d kept=%+v", removed, kept)
	}
}

func TestDedupe_LastWins(t *testing.T) {
	got := Dedupe([]models.LedgerEntry{
		{UserID: "1", Date: day("2026-10-01"), Points: 1},
		{UserID: "2", Date: day("2026-10-01"), Points: 1},
		{UserID: "1", Date: day("2026-10-01"), Points: 3},
	})
	if len(got) != 2 || got[0].Points != 3 || got[0].UserID != "1" {
		t.Fatalf("dedupe=%+v", got)
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize([]models.LedgerEntry{
		{UserID: "b", Date: day("2026-10-02"), Points: 1},
		{UserID: "a", Date: day("2026-10-01"), Points: 1},
		{UserID: "c", Date: day("2026-10-03"), Points: 2},
		{UserID: "b", Date: day("2026-10-01"), Points: 1},
	})
	if len(got) != 3 {
		t.Fatalf("summary=%+v", got)
	}
	// c и b по 2 балла — порядок по UserID; a последним
	if got[0].UserID != "b" || got[1].UserID != "c" || got[2].UserID != "a" {
		t.Fatalf("order=%+v", got)
	}
	b := got[0]
	if b.TotalPoints != 2 || b.ValidDays != 2 || !b.FirstDate.Equal(day("2026-10-01")) || !b.LastDate.Equal(day("2026-10-02")) {
		t.Fatalf("b=%+v", b)
	}
	if got[1].ValidDays != 1 || got[1].TotalPoints != 2 {
		t.Fatalf("c=%+v", got[1])
	}
}

func TestMergeNames(t *testing.T) {
	summary := []models.UserPoints{{UserID: "1"}, {UserID: "2"}, {UserID: "3"}, {UserID: "4"}}
	previous := []models.UserPoints{
		{UserID: "1", UserName: "老名字"},
		{UserID: "2", UserName: "小二"},
		{UserID: "3", UserName: models.UnknownUserName},
	}
	batch := map[string]string{"1": "新名字", "2": "", "3": "nan"}

	got := MergeNames(summary, previous, batch)
	want := []string{"新名字", "小二", models.UnknownUserName, models.UnknownUserName}
	for i, w := range want {
		if got[i].UserName != w {
			t.Fatalf("user %s name=%q, want %q", got[i].UserID, got[i].UserName, w)
		}
	}
}

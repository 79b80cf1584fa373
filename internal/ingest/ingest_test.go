package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Spok95/streampoints/internal/models"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Settings: models.DefaultSettings(), Now: testNow, Location: time.UTC}
}

func table(header []string, rows ...[]string) *models.Table {
	return &models.Table{Header: header, Rows: rows}
}

func TestNormalize_StartEnd(t *testing.T) {
	tbl := table([]string{"主播ID", "昵称", "开始时间", "结束时间"},
		[]string{"7", "小七", "2026-10-10 10:00:00", "2026-10-10 11:00:00"},
		[]string{"7", "小七", "2026-10-10 20:00:00", "2026-10-10 21:30:00"},
		[]string{"8", "", "2026-10-11 10:00:00", "2026-10-11 10:20:00"},
	)
	b, err := Normalize(context.Background(), tbl, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Sessions) != 2 {
		t.Fatalf("sessions=%+v", b.Sessions)
	}
	s := b.Sessions[0]
	if s.UserID != "7" || s.UserName != "小七" || s.Duration != 60 {
		t.Fatalf("unexpected session %+v", s)
	}
	if !s.Date.Equal(time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)) || s.DateGuessed {
		t.Fatalf("date=%v guessed=%v", s.Date, s.DateGuessed)
	}
	if b.Stats.BelowThreshold != 1 {
		t.Fatalf("stats=%+v", b.Stats)
	}
}

func TestNormalize_ThresholdIsInclusive(t *testing.T) {
	tbl := table([]string{"UserID", "Duration", "StartTime"},
		[]string{"1", "39.99", "2026-10-15 10:00"},
		[]string{"2", "40", "2026-10-15 10:00"},
	)
	b, err := Normalize(context.Background(), tbl, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Sessions) != 1 || b.Sessions[0].UserID != "2" {
		t.Fatalf("sessions=%+v", b.Sessions)
	}
}

func TestNormalize_BelowThreshold(t *testing.T) {
	tbl := table([]string{"UserID", "Duration"}, []string{"1", "10"}, []string{"2", "39分"})
	_, err := Normalize(context.Background(), tbl, testOptions())
	if KindOf(err) != KindBelowThreshold || !strings.Contains(err.Error(), "40") {
		t.Fatalf("expected below threshold naming 40, got %v", err)
	}
}

func TestNormalize_Expired(t *testing.T) {
	tbl := table([]string{"UserID", "Duration", "StartTime"},
		[]string{"1", "60", "2026-01-01 10:00"},
		[]string{"2", "60", "2026-07-18 10:00"}, // ровно 90 дней назад — уже сгорело
	)
	_, err := Normalize(context.Background(), tbl, testOptions())
	if KindOf(err) != KindExpiredWindow || !strings.Contains(err.Error(), "90") {
		t.Fatalf("expected expired window, got %v", err)
	}
}

func TestNormalize_WindowBoundary(t *testing.T) {
	tbl := table([]string{"UserID", "Duration", "StartTime"},
		[]string{"1", "60", "2026-07-18 10:00"},
		[]string{"2", "60", "2026-07-19 10:00"},
	)
	b, err := Normalize(context.Background(), tbl, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Sessions) != 1 || b.Sessions[0].UserID != "2" || b.Stats.Expired != 1 {
		t.Fatalf("sessions=%+v stats=%+v", b.Sessions, b.Stats)
	}
}

func TestNormalize_FallbackDateColumn(t *testing.T) {
	tbl := table([]string{"用户ID", "观看时长", "日期"}, []string{"1", "50", "2026/10/01"})
	b, err := Normalize(context.Background(), tbl, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if b.DateColumn != "日期" || !b.Sessions[0].Date.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date column=%q sessions=%+v", b.DateColumn, b.Sessions)
	}
}

func TestNormalize_TodayFallbackIsReported(t *testing.T) {
	tbl := table([]string{"用户ID", "观看时长"}, []string{"1", "50"})
	b, err := Normalize(context.Background(), tbl, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	s := b.Sessions[0]
	if !s.DateGuessed || !s.Date.Equal(models.DateOf(testNow)) {
		t.Fatalf("session=%+v", s)
	}
	if len(b.Warnings) != 1 || !strings.Contains(b.Warnings[0], "2026-10-16") {
		t.Fatalf("warnings=%v", b.Warnings)
	}
}

func TestNormalize_StrictDates(t *testing.T) {
	opts := testOptions()
	opts.Settings.StrictDates = true
	tbl := table([]string{"用户ID", "观看时长"}, []string{"1", "50"})
	_, err := Normalize(context.Background(), tbl, opts)
	if KindOf(err) != KindUndatedRows {
		t.Fatalf("expected undated rows error, got %v", err)
	}
}

func TestNormalize_Unparseable(t *testing.T) {
	tbl := table([]string{"UserID", "StartTime", "EndTime"}, []string{"1", "yesterday-ish", "later"})
	_, err := Normalize(context.Background(), tbl, testOptions())
	if KindOf(err) != KindUnparseable {
		t.Fatalf("expected unparseable, got %v", err)
	}
}

func TestNormalize_NoValidData(t *testing.T) {
	tbl := table([]string{"UserID", "Duration"}, []string{"", ""}, []string{" ", "\t"})
	_, err := Normalize(context.Background(), tbl, testOptions())
	if KindOf(err) != KindNoValidData {
		t.Fatalf("expected no valid data, got %v", err)
	}
}

func TestIngest_CSV(t *testing.T) {
	data := "用户ID,用户昵称,直播观看时长,首次观看直播时间\n" +
		"007,阿七,0小时43分53秒,2026-10-14 20:00:00\n" +
		"8.0,,1:00:00,2026-10-15 20:00:00\n"
	b, err := Ingest(context.Background(), strings.NewReader(data), FormatCSV, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Sessions) != 2 || b.Sessions[0].UserID != "007" || b.Sessions[1].UserID != "8" {
		t.Fatalf("sessions=%+v", b.Sessions)
	}
}

func TestCanonicalUserID(t *testing.T) {
	for in, want := range map[string]string{
		" 7 ": "7", "7.0": "7", "007": "007", "1.2E+10": "12000000000", "abc": "abc",
	} {
		if got := CanonicalUserID(in); got != want {
			t.Fatalf("CanonicalUserID(%q)=%q, want %q", in, got, want)
		}
	}
}

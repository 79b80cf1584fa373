package ingest

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/streampoints/internal/models"
	"go.uber.org/zap"
)

// Options — неизменяемые параметры одного прогона.
type Options struct {
	Settings models.Settings
	Now      time.Time
	Location *time.Location
	Log      *zap.Logger
}

// Stats — диагностические счётчики прогона.
type Stats struct {
	RowsRead       int
	Sanitize       SanitizeStats
	Unparseable    int
	BelowThreshold int
	Undated        int
	GuessedDates   int
	Expired        int
}

// Batch — результат нормализации файла.
type Batch struct {
	Sessions   []models.SessionRecord
	Mapping    models.ColumnMapping
	DateColumn string
	Stats      Stats
	Warnings   []string
}

// Ingest читает файл и превращает его в список подходящих сессий.
func Ingest(ctx context.Context, r io.Reader, format Format, opts Options) (*Batch, error) {
	t, err := ReadTable(r, format)
	if err != nil {
		return nil, err
	}
	return Normalize(ctx, t, opts)
}

// Normalize: очистка -> сопоставление колонок -> длительность -> порог ->
// дата -> окно действия.
func Normalize(ctx context.Context, raw *models.Table, opts Options) (*Batch, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	st := opts.Settings
	today := models.DateOf(now.In(loc))

	b := &Batch{Stats: Stats{RowsRead: len(raw.Rows)}}

	t, sst := Sanitize(raw)
	b.Stats.Sanitize = sst
	log.Debug("sanitized upload",
		zap.Int("input", sst.Input), zap.Int("output", sst.Output),
		zap.Int("blank", sst.BlankRows), zap.Int("missing_id", sst.MissingID),
		zap.Int("missing_time", sst.MissingTime), zap.Int("duplicates", sst.Duplicates),
		zap.String("id_column", sst.IDColumn), zap.String("time_column", sst.TimeColumn))
	if len(t.Rows) == 0 {
		return nil, newError(KindNoValidData, "file contains no valid data rows")
	}

	mapping, err := DetectColumns(t.Header)
	if err != nil {
		return nil, err
	}
	b.Mapping = mapping
	log.Debug("column mapping", zap.Any("mapping", mapping))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idIdx := indexOf(t, mapping, models.FieldUserID)
	nameIdx := indexOf(t, mapping, models.FieldUserName)
	startIdx := indexOf(t, mapping, models.FieldStartTime)
	endIdx := indexOf(t, mapping, models.FieldEndTime)
	durIdx := indexOf(t, mapping, models.FieldDuration)
	dateIdx := fallbackDateColumn(t.Header, mapping)
	if dateIdx >= 0 {
		b.DateColumn = t.Header[dateIdx]
	}

	type parsed struct {
		rec   models.SessionRecord
		row   []string
		start time.Time
		end   time.Time
	}
	var rows []parsed
	for _, row := range t.Rows {
		p := parsed{row: row, rec: models.SessionRecord{
			UserID:   CanonicalUserID(t.Cell(row, idIdx)),
			UserName: cleanName(t.Cell(row, nameIdx)),
		}}
		if p.rec.UserID == "" {
			b.Stats.Unparseable++
			continue
		}
		if startIdx >= 0 {
			p.start, _ = ParseDateTime(t.Cell(row, startIdx), loc)
		}
		if endIdx >= 0 {
			p.end, _ = ParseDateTime(t.Cell(row, endIdx), loc)
		}

		if durIdx >= 0 {
			d, ok := ParseDuration(t.Cell(row, durIdx))
			if !ok {
				b.Stats.Unparseable++
				continue
			}
			p.rec.Duration = d
		} else {
			if p.start.IsZero() || p.end.IsZero() || p.end.Before(p.start) {
				b.Stats.Unparseable++
				continue
			}
			p.rec.Duration = p.end.Sub(p.start).Minutes()
		}
		rows = append(rows, p)
	}
	if len(rows) == 0 {
		if durIdx >= 0 {
			return nil, newError(KindUnparseable, "could not parse the duration in any row")
		}
		return nil, newError(KindUnparseable, "could not parse start and end time in any row")
	}

	qualifying := rows[:0]
	for _, p := range rows {
		if p.rec.Duration < st.MinDurationMinutes {
			b.Stats.BelowThreshold++
			continue
		}
		qualifying = append(qualifying, p)
	}
	if len(qualifying) == 0 {
		return nil, newError(KindBelowThreshold, "no session lasts at least %s minutes",
			strconv.FormatFloat(st.MinDurationMinutes, 'f', -1, 64))
	}

	cutoff := st.Cutoff(today)
	for _, p := range qualifying {
		var day time.Time
		switch {
		case !p.start.IsZero():
			day = p.start
		case !p.end.IsZero():
			day = p.end
		case dateIdx >= 0:
			day, _ = ParseDateTime(t.Cell(p.row, dateIdx), loc)
		}
		rec := p.rec
		if day.IsZero() {
			if st.StrictDates {
				b.Stats.Undated++
				continue
			}
			rec.Date = today
			rec.DateGuessed = true
			b.Stats.GuessedDates++
		} else {
			rec.Date = models.DateOf(day.In(loc))
		}
		if !rec.Date.After(cutoff) {
			b.Stats.Expired++
			continue
		}
		b.Sessions = append(b.Sessions, rec)
	}

	if b.Stats.GuessedDates > 0 {
		b.Warnings = append(b.Warnings, fmt.Sprintf(
			"%d rows have no parseable date; today's date %s was used",
			b.Stats.GuessedDates, today.Format(models.DateLayout)))
	}
	if len(b.Sessions) == 0 {
		if b.Stats.Expired == 0 && b.Stats.Undated > 0 {
			return nil, newError(KindUndatedRows, "no qualifying row has a parseable date (strict date mode)")
		}
		return nil, newError(KindExpiredWindow,
			"all qualifying sessions are older than the %d-day validity window", st.ValidityDays)
	}
	log.Debug("normalized upload",
		zap.Int("sessions", len(b.Sessions)), zap.Int("unparseable", b.Stats.Unparseable),
		zap.Int("below_threshold", b.Stats.BelowThreshold), zap.Int("expired", b.Stats.Expired),
		zap.Int("guessed_dates", b.Stats.GuessedDates), zap.Int("undated", b.Stats.Undated))
	return b, nil
}

func indexOf(t *models.Table, m models.ColumnMapping, f models.Field) int {
	col, ok := m.Column(f)
	if !ok {
		return -1
	}
	return t.Index(col)
}

var dateKeywords = []string{"时间", "日期", "date", "time"}

// fallbackDateColumn — первая не сопоставленная колонка, похожая на дату.
func fallbackDateColumn(header []string, m models.ColumnMapping) int {
	for i, h := range header {
		if _, mapped := m[h]; mapped {
			continue
		}
		lh := strings.ToLower(h)
		for _, kw := range dateKeywords {
			if strings.Contains(lh, kw) {
				return i
			}
		}
	}
	return -1
}

var reFloatID = regexp.MustCompile(`^(\d+)\.0+$`)

// CanonicalUserID приводит ID к строке: "7.0" -> "7", "1.2E+10" -> "12000000000".
// Ведущие нули сохраняются.
func CanonicalUserID(raw string) string {
	s := strings.TrimSpace(raw)
	if m := reFloatID.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if strings.ContainsAny(s, "eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return s
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

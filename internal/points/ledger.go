package points

import (
	"sort"
	"time"

	"github.com/Spok95/streampoints/internal/models"
)

// Presence — пользователь был на эфире в этот день (хотя бы одна засчитанная сессия).
type Presence struct {
	UserID string
	Date   time.Time
}

// DailyPresence сворачивает сессии в уникальные пары (пользователь, день)
// в порядке первого появления.
func DailyPresence(sessions []models.SessionRecord) []Presence {
	seen := make(map[models.DayKey]struct{}, len(sessions))
	out := make([]Presence, 0, len(sessions))
	for _, s := range sessions {
		p := Presence{UserID: s.UserID, Date: models.DateOf(s.Date)}
		k := models.DayKey{UserID: p.UserID, Day: p.Date.Format(models.DateLayout)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// BatchNames — последний непустой ник каждого пользователя в пачке.
func BatchNames(sessions []models.SessionRecord) map[string]string {
	names := make(map[string]string)
	for _, s := range sessions {
		if !models.IsPlaceholderName(s.UserName) {
			names[s.UserID] = s.UserName
		}
	}
	return names
}

// Merge добавляет записи только для пар, которых ещё нет в журнале.
// Повторная загрузка того же дня баллы не увеличивает.
func Merge(existing []models.LedgerEntry, presence []Presence, pointsPerDay int) ([]models.LedgerEntry, int) {
	have := make(map[models.DayKey]struct{}, len(existing))
	for _, e := range existing {
		have[e.Key()] = struct{}{}
	}
	out := make([]models.LedgerEntry, len(existing), len(existing)+len(presence))
	copy(out, existing)
	added := 0
	for _, p := range presence {
		e := models.LedgerEntry{UserID: p.UserID, Date: models.DateOf(p.Date), Points: pointsPerDay}
		if _, ok := have[e.Key()]; ok {
			continue
		}
		have[e.Key()] = struct{}{}
		out = append(out, e)
		added++
	}
	return out, added
}

// Prune оставляет только записи с датой строго позже today-validityDays.
func Prune(entries []models.LedgerEntry, today time.Time, validityDays int) ([]models.LedgerEntry, int) {
	cutoff := models.DateOf(today).AddDate(0, 0, -validityDays)
	out := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if models.DateOf(e.Date).After(cutoff) {
			out = append(out, e)
		}
	}
	return out, len(entries) - len(out)
}

// Dedupe: на пару (пользователь, день) остаётся последняя запись.
func Dedupe(entries []models.LedgerEntry) []models.LedgerEntry {
	pos := make(map[models.DayKey]int, len(entries))
	out := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if i, ok := pos[e.Key()]; ok {
			out[i] = e
			continue
		}
		pos[e.Key()] = len(out)
		out = append(out, e)
	}
	return out
}

// Summarize: SUM(points) и COUNT(*) по пользователю. Имена не заполняются.
func Summarize(entries []models.LedgerEntry) []models.UserPoints {
	idx := make(map[string]int)
	var out []models.UserPoints
	for _, e := range entries {
		d := models.DateOf(e.Date)
		i, ok := idx[e.UserID]
		if !ok {
			idx[e.UserID] = len(out)
			out = append(out, models.UserPoints{UserID: e.UserID, FirstDate: d, LastDate: d})
			i = len(out) - 1
		}
		u := &out[i]
		u.TotalPoints += e.Points
		u.ValidDays++
		if d.Before(u.FirstDate) {
			u.FirstDate = d
		}
		if d.After(u.LastDate) {
			u.LastDate = d
		}
	}
	SortByPoints(out)
	return out
}

// SortByPoints: баллы по убыванию, затем UserID по возрастанию.
func SortByPoints(rows []models.UserPoints) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalPoints != rows[j].TotalPoints {
			return rows[i].TotalPoints > rows[j].TotalPoints
		}
		return rows[i].UserID < rows[j].UserID
	})
}

// MergeNames проставляет ники: известный ник из прошлой сводки, поверх него
// непустой ник из текущей пачки, иначе заглушка. Настоящий ник никогда не
// откатывается к заглушке.
func MergeNames(summary, previous []models.UserPoints, batchNames map[string]string) []models.UserPoints {
	known := make(map[string]string, len(previous))
	for _, p := range previous {
		if !models.IsPlaceholderName(p.UserName) {
			known[p.UserID] = p.UserName
		}
	}
	for id, name := range batchNames {
		if !models.IsPlaceholderName(name) {
			known[id] = name
		}
	}
	out := make([]models.UserPoints, len(summary))
	for i, u := range summary {
		if name, ok := known[u.UserID]; ok {
			u.UserName = name
		} else {
			u.UserName = models.UnknownUserName
		}
		out[i] = u
	}
	return out
}

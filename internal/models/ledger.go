package models

import "time"

// DateLayout — формат календарной даты в хранилище и в ключах.
const DateLayout = "2006-01-02"

// UnknownUserName — заглушка для пользователя без известного ника.
const UnknownUserName = "未知用户"

// LedgerEntry — одна запись журнала: пользователь получил баллы за день.
type LedgerEntry struct {
	UserID string    `db:"user_id"`
	Date   time.Time `db:"day"`
	Points int       `db:"points"`
}

// Key уникален для пары (пользователь, день).
func (e LedgerEntry) Key() DayKey { return DayKey{UserID: e.UserID, Day: e.Date.Format(DateLayout)} }

type DayKey struct {
	UserID string
	Day    string
}

// UserPoints — строка сводки, пересчитывается из журнала при каждой записи.
type UserPoints struct {
	Tenant      string    `db:"tenant_id" json:"tenant,omitempty"`
	UserID      string    `db:"user_id" json:"user_id"`
	UserName    string    `db:"user_name" json:"user_name"`
	TotalPoints int       `db:"total_points" json:"total_points"`
	ValidDays   int       `db:"valid_days" json:"valid_days"`
	FirstDate   time.Time `db:"first_day" json:"first_date"`
	LastDate    time.Time `db:"last_day" json:"last_date"`
}

// DaysLeft — сколько дней осталось до сгорания самой старой записи.
func (u UserPoints) DaysLeft(today time.Time, validityDays int) int {
	if u.FirstDate.IsZero() {
		return 0
	}
	left := validityDays - int(DateOf(today).Sub(DateOf(u.FirstDate)).Hours()/24)
	if left < 0 {
		return 0
	}
	return left
}

// IsPlaceholderName — пустое имя или заглушка не считаются «известным» ником.
func IsPlaceholderName(name string) bool {
	switch name {
	case "", UnknownUserName, "unknown", "nan":
		return true
	}
	return false
}

// DateOf отбрасывает время и зону: календарный день в UTC-полуночи.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate разбирает дату в формате DateLayout.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// TenantState — журнал и сводка арендатора, прочитанные под его блокировкой.
// LedgerErr/SummaryErr — ошибки чтения; что с ними делать, решает UpdateFunc.
type TenantState struct {
	Ledger     []LedgerEntry
	Summary    []UserPoints
	LedgerErr  error
	SummaryErr error
}

// UpdateFunc строит новое состояние из текущего. Ошибка отменяет запись.
type UpdateFunc func(cur TenantState) ([]LedgerEntry, []UserPoints, error)

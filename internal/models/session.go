package models

import "time"

// Field — каноническое имя колонки загружаемого файла.
type Field string

const (
	FieldUserID    Field = "UserID"
	FieldUserName  Field = "UserName"
	FieldStartTime Field = "StartTime"
	FieldEndTime   Field = "EndTime"
	FieldDuration  Field = "Duration"
)

// ColumnMapping: исходный заголовок -> каноническое поле.
type ColumnMapping map[string]Field

// Column возвращает исходный заголовок для поля.
func (m ColumnMapping) Column(f Field) (string, bool) {
	for col, field := range m {
		if field == f {
			return col, true
		}
	}
	return "", false
}

func (m ColumnMapping) Has(f Field) bool {
	_, ok := m.Column(f)
	return ok
}

// Table — сырая таблица из файла, все ячейки строками.
type Table struct {
	Header []string
	Rows   [][]string
}

// Index возвращает номер колонки по заголовку или -1.
func (t *Table) Index(col string) int {
	for i, h := range t.Header {
		if h == col {
			return i
		}
	}
	return -1
}

// Cell безопасно читает ячейку (короткие строки CSV/XLSX дополняются пустыми).
func (t *Table) Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// SessionRecord — нормализованная сессия просмотра.
type SessionRecord struct {
	UserID      string
	UserName    string
	Duration    float64 // минуты
	Date        time.Time
	DateGuessed bool
}

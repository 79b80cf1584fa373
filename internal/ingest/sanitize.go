package ingest

import (
	"strings"

	"github.com/Spok95/streampoints/internal/models"
)

// Ключевые слова для грубого поиска колонок до формального сопоставления.
// Порядок внутри списка — приоритет: "id" надёжнее, чем "用户".
var (
	idKeywords       = []string{"id", "编号", "用户", "user"}
	durationKeywords = []string{"时长", "duration", "时间", "time"}
	nameKeywords     = []string{"昵称", "name", "名称", "姓名"}
)

// SanitizeStats — сколько строк отброшено на каждом шаге.
type SanitizeStats struct {
	Input       int
	BlankRows   int
	MissingID   int
	MissingTime int
	AllKeyBlank int
	Duplicates  int
	Output      int
	IDColumn    string
	TimeColumn  string
	NameColumn  string
}

// Sanitize чистит таблицу от пустых, неполных и повторяющихся строк.
// Входная таблица не меняется.
func Sanitize(t *models.Table) (*models.Table, SanitizeStats) {
	st := SanitizeStats{Input: len(t.Rows)}
	header := make([]string, len(t.Header))
	for i, h := range t.Header {
		header[i] = normalizeHeader(h)
	}
	out := &models.Table{Header: header}

	idIdx := guessColumn(header, idKeywords)
	timeIdx := guessColumn(header, durationKeywords)
	nameIdx := guessColumn(header, nameKeywords)
	st.IDColumn, st.TimeColumn, st.NameColumn = colName(header, idIdx), colName(header, timeIdx), colName(header, nameIdx)

	seen := make(map[string]struct{}, len(t.Rows))
	for _, raw := range t.Rows {
		row := make([]string, len(header))
		blank := true
		for i := range header {
			if i < len(raw) {
				row[i] = strings.TrimSpace(raw[i])
			}
			if row[i] != "" {
				blank = false
			}
		}
		switch {
		case blank:
			st.BlankRows++
			continue
		case idIdx >= 0 && row[idIdx] == "":
			st.MissingID++
			continue
		case timeIdx >= 0 && row[timeIdx] == "":
			st.MissingTime++
			continue
		case allBlank(row, idIdx, timeIdx, nameIdx):
			st.AllKeyBlank++
			continue
		}
		key := strings.Join(row, "\x1f")
		if _, dup := seen[key]; dup {
			st.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		out.Rows = append(out.Rows, row)
	}
	st.Output = len(out.Rows)
	return out, st
}

func guessColumn(header []string, keywords []string) int {
	for _, kw := range keywords {
		for i, h := range header {
			if strings.Contains(strings.ToLower(h), strings.ToLower(kw)) {
				return i
			}
		}
	}
	return -1
}

// allBlank истинно, только если найдена хотя бы одна ключевая колонка
// и все найденные пусты.
func allBlank(row []string, idxs ...int) bool {
	found := false
	for _, i := range idxs {
		if i < 0 {
			continue
		}
		found = true
		if row[i] != "" {
			return false
		}
	}
	return found
}

func colName(header []string, i int) string {
	if i < 0 {
		return ""
	}
	return header[i]
}

package ingest

import (
	"strings"

	"github.com/Spok95/streampoints/internal/models"
)

type fieldPatterns struct {
	field    models.Field
	patterns []string
}

// Порядок полей задаёт приоритет: заголовок, занятый ранним полем,
// позже уже не рассматривается.
var columnPatterns = []fieldPatterns{
	{models.FieldUserID, []string{
		"用户id", "用户ID", "UserID", "userid", "user_id",
		"主播ID", "主播id", "演员ID", "演员id",
	}},
	{models.FieldUserName, []string{
		"演员人大名", "演员人名字", "用户名称", "用户配称", "用户昵称", "昵称", "姓名",
		"主播", "主播名", "演员", "用户", "用户名", "username", "nickname",
	}},
	{models.FieldStartTime, []string{
		"首次观看直播时间", "开始时间", "StartTime", "start_time", "starttime",
		"直播开始时间", "开播时间", "首次进入时间", "进入时间", "开始",
	}},
	{models.FieldEndTime, []string{
		"最后观看直播时间", "最近观看直播时间", "最后离开直播时间", "结束时间", "EndTime", "end_time", "endtime",
		"直播结束时间", "离开时间", "结束",
	}},
	{models.FieldDuration, []string{
		"直播观看时长", "观看时长", "时长", "Duration", "duration",
		"观看时间", "直播时间", "在线时长", "停留时长",
	}},
}

// DetectColumns сопоставляет заголовки файла каноническим полям.
// Нужен UserID и либо Duration, либо пара StartTime+EndTime.
func DetectColumns(headers []string) (models.ColumnMapping, error) {
	pool := make([]string, 0, len(headers))
	for _, h := range headers {
		pool = append(pool, normalizeHeader(h))
	}

	mapping := models.ColumnMapping{}
	for _, fp := range columnPatterns {
		col, ok := bestMatch(pool, fp.patterns)
		if !ok {
			continue
		}
		mapping[col] = fp.field
		pool = remove(pool, col)
	}

	if !mapping.Has(models.FieldUserID) {
		return nil, newError(KindUnmappableSchema,
			"cannot find a user id column; observed headers: %q", headers)
	}
	hasRange := mapping.Has(models.FieldStartTime) && mapping.Has(models.FieldEndTime)
	if !mapping.Has(models.FieldDuration) && !hasRange {
		return nil, newError(KindUnmappableSchema,
			"cannot find a duration column or a start/end time pair; observed headers: %q", headers)
	}
	return mapping, nil
}

// bestMatch: сначала точное совпадение без учёта регистра по всем
// заголовкам, затем вхождение шаблона в заголовок.
func bestMatch(columns, patterns []string) (string, bool) {
	for _, col := range columns {
		lc := strings.ToLower(col)
		for _, p := range patterns {
			if lc == strings.ToLower(p) {
				return col, true
			}
		}
	}
	for _, col := range columns {
		lc := strings.ToLower(col)
		for _, p := range patterns {
			if strings.Contains(lc, strings.ToLower(p)) {
				return col, true
			}
		}
	}
	return "", false
}

func normalizeHeader(h string) string {
	return strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
}

func remove(xs []string, x string) []string {
	out := xs[:0:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}

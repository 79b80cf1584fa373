package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// Порядок важен: более специфичные шаблоны раньше, иначе "1:30:45"
// совпадёт с M:S.
var (
	reHMSChinese = regexp.MustCompile(`(\d+)小时(\d+)分(\d+)秒`)
	reMSChinese  = regexp.MustCompile(`(\d+)分(\d+)秒`)
	reHMSColon   = regexp.MustCompile(`(\d+):(\d+):(\d+)`)
	reMSColon    = regexp.MustCompile(`(\d+):(\d+)`)
	reMinutes    = regexp.MustCompile(`(\d+)分`)
	reInteger    = regexp.MustCompile(`^\d+$`)
	reDecimal    = regexp.MustCompile(`^\d+\.\d+$`)
)

// ParseDuration переводит значение колонки длительности в минуты.
// Поддерживаются "0小时43分53秒", "43分53秒", "1:30:45", "90:30", "90分",
// "90分钟", "90" и дробные минуты из числовых ячеек ("45.5").
func ParseDuration(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	if m := reHMSChinese.FindStringSubmatch(s); m != nil {
		return hms(m[1], m[2], m[3]), true
	}
	if m := reMSChinese.FindStringSubmatch(s); m != nil {
		return hms("0", m[1], m[2]), true
	}
	if m := reHMSColon.FindStringSubmatch(s); m != nil {
		return hms(m[1], m[2], m[3]), true
	}
	if m := reMSColon.FindStringSubmatch(s); m != nil {
		return hms("0", m[1], m[2]), true
	}
	if m := reMinutes.FindStringSubmatch(s); m != nil {
		return atof(m[1]), true
	}
	if reInteger.MatchString(s) || reDecimal.MatchString(s) {
		return atof(s), true
	}
	return 0, false
}

func hms(h, m, s string) float64 {
	return atof(h)*60 + atof(m) + atof(s)/60
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

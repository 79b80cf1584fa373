package ingest

import (
	"strings"
	"testing"

	"github.com/Spok95/streampoints/internal/models"
)

func TestDetectColumns_StartEnd(t *testing.T) {
	m, err := DetectColumns([]string{"主播ID", "昵称", "开始时间", "结束时间"})
	if err != nil {
		t.Fatal(err)
	}
	want := models.ColumnMapping{
		"主播ID": models.FieldUserID,
		"昵称":   models.FieldUserName,
		"开始时间": models.FieldStartTime,
		"结束时间": models.FieldEndTime,
	}
	if len(m) != len(want) {
		t.Fatalf("mapping=%v, want %v", m, want)
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("mapping[%s]=%s, want %s", k, m[k], v)
		}
	}
}

func TestDetectColumns_NoUserID(t *testing.T) {
	_, err := DetectColumns([]string{"foo", "bar"})
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindUnmappableSchema {
		t.Fatalf("kind=%s", KindOf(err))
	}
	if !strings.Contains(err.Error(), "foo") || !strings.Contains(err.Error(), "bar") {
		t.Fatalf("error must echo headers: %v", err)
	}
}

func TestDetectColumns_NoDuration(t *testing.T) {
	_, err := DetectColumns([]string{"用户ID", "昵称", "开始时间"})
	if KindOf(err) != KindUnmappableSchema {
		t.Fatalf("expected unmappable schema, got %v", err)
	}
}

func TestDetectColumns_DurationExport(t *testing.T) {
	m, err := DetectColumns([]string{"用户ID", "用户昵称", "直播观看时长", "首次观看直播时间"})
	if err != nil {
		t.Fatal(err)
	}
	if m["直播观看时长"] != models.FieldDuration || m["首次观看直播时间"] != models.FieldStartTime {
		t.Fatalf("unexpected mapping %v", m)
	}
}

// "首次观看直播时间" подходит и как StartTime (точно), и как Duration
// (содержит "直播时间"). Заголовок достаётся только первому полю.
func TestDetectColumns_HeaderNotReused(t *testing.T) {
	m, err := DetectColumns([]string{"用户ID", "首次观看直播时间", "最后观看直播时间"})
	if err != nil {
		t.Fatal(err)
	}
	if m["首次观看直播时间"] != models.FieldStartTime {
		t.Fatalf("start column remapped: %v", m)
	}
	if m.Has(models.FieldDuration) {
		t.Fatalf("duration must not reuse a consumed header: %v", m)
	}
}

func TestDetectColumns_CaseAndBOM(t *testing.T) {
	m, err := DetectColumns([]string{"\ufeffuserid", " DURATION "})
	if err != nil {
		t.Fatal(err)
	}
	if m["userid"] != models.FieldUserID || m["DURATION"] != models.FieldDuration {
		t.Fatalf("unexpected mapping %v", m)
	}
}

package ingest

import (
	"testing"

	"github.com/Spok95/streampoints/internal/models"
)

func TestSanitize(t *testing.T) {
	in := &models.Table{
		Header: []string{"用户ID", "昵称", "观看时长"},
		Rows: [][]string{
			{"1", "小明", "50"},
			{"", " ", ""},
			{"", "无ID", "50"},
			{"2", "没有时长", "  "},
			{" 1 ", "小明", "50"},
			{"3", "", "45"},
			{"4", "短行"},
		},
	}
	out, st := Sanitize(in)

	if st.BlankRows != 1 || st.MissingID != 1 || st.MissingTime != 2 || st.Duplicates != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("rows=%v", out.Rows)
	}
	if out.Rows[0][0] != "1" || out.Rows[1][0] != "3" {
		t.Fatalf("unexpected rows %v", out.Rows)
	}
	if st.IDColumn != "用户ID" || st.TimeColumn != "观看时长" || st.NameColumn != "昵称" {
		t.Fatalf("guessed columns %+v", st)
	}
	if len(in.Rows) != 7 {
		t.Fatal("input table must not be modified")
	}
}

func TestSanitize_NoKeyColumns(t *testing.T) {
	in := &models.Table{
		Header: []string{"a", "b"},
		Rows:   [][]string{{"x", ""}, {"x", ""}, {"", ""}},
	}
	out, st := Sanitize(in)
	if len(out.Rows) != 1 || st.Duplicates != 1 || st.BlankRows != 1 {
		t.Fatalf("rows=%v stats=%+v", out.Rows, st)
	}
}

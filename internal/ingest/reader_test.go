package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestFormatFromName(t *testing.T) {
	for name, want := range map[string]Format{
		"a.csv": FormatCSV, "B.XLSX": FormatXLSX, "c.xls": FormatXLS, "d.json": FormatJSON, "e.tsv": FormatTSV,
	} {
		got, err := FormatFromName(name)
		if err != nil || got != want {
			t.Fatalf("FormatFromName(%q)=%q, %v", name, got, err)
		}
	}
	_, err := FormatFromName("report.pdf")
	if KindOf(err) != KindUnsupportedFormat || !strings.Contains(err.Error(), ".pdf") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestReadTable_CSVWithBOM(t *testing.T) {
	data := "\xEF\xBB\xBF用户ID,昵称,观看时长\n1,小明,50\n"
	tbl, err := ReadTable(strings.NewReader(data), FormatCSV)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Header[0] != "用户ID" || len(tbl.Rows) != 1 || tbl.Rows[0][1] != "小明" {
		t.Fatalf("unexpected table %+v", tbl)
	}
}

func TestReadTable_CSVGB18030(t *testing.T) {
	src := "用户ID,昵称,观看时长\n7,张三,1:00:00\n"
	enc, err := simplifiedchinese.GB18030.NewEncoder().String(src)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := ReadTable(strings.NewReader(enc), FormatCSV)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Header[1] != "昵称" || tbl.Rows[0][1] != "张三" {
		t.Fatalf("charset not decoded: %+v", tbl)
	}
}

func TestReadTable_TSVAndDuplicateHeaders(t *testing.T) {
	data := "UserID\tDuration\tDuration\t\n1\t50\t60\tx\n"
	tbl, err := ReadTable(strings.NewReader(data), FormatTSV)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"UserID", "Duration", "Duration.1", "Unnamed: 3"}
	for i, h := range want {
		if tbl.Header[i] != h {
			t.Fatalf("header=%q, want %q", tbl.Header, want)
		}
	}
}

func TestReadTable_JSONRecords(t *testing.T) {
	data := `[{"UserID": 7, "UserName": "小红", "Duration": "45分"}, {"UserID": "008", "Duration": 50, "Extra": null}]`
	tbl, err := ReadTable(strings.NewReader(data), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(tbl.Header, ",") != "UserID,UserName,Duration,Extra" {
		t.Fatalf("header order lost: %q", tbl.Header)
	}
	if tbl.Rows[0][0] != "7" || tbl.Rows[1][0] != "008" || tbl.Rows[1][1] != "" || tbl.Rows[1][2] != "50" {
		t.Fatalf("rows=%q", tbl.Rows)
	}
}

func TestReadTable_JSONColumns(t *testing.T) {
	data := `{"UserID": {"0": "1", "1": "2"}, "Duration": {"0": 41, "1": 39}}`
	tbl, err := ReadTable(strings.NewReader(data), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Rows) != 2 || tbl.Rows[1][0] != "2" || tbl.Rows[1][1] != "39" {
		t.Fatalf("rows=%q", tbl.Rows)
	}
}

func TestReadTable_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	_ = f.SetSheetRow("Sheet1", "A1", &[]any{"主播ID", "昵称", "直播观看时长"})
	_ = f.SetSheetRow("Sheet1", "A2", &[]any{"101", "主播A", "0小时45分10秒"})
	_ = f.SetSheetRow("Sheet1", "A3", &[]any{"102", "主播B", "1:02:00"})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	tbl, err := ReadTable(bytes.NewReader(buf.Bytes()), FormatXLSX)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Header[2] != "直播观看时长" || len(tbl.Rows) != 2 || tbl.Rows[1][0] != "102" {
		t.Fatalf("unexpected table %+v", tbl)
	}
}

func TestReadTable_BrokenWorkbook(t *testing.T) {
	_, err := ReadTable(strings.NewReader("definitely not a zip"), FormatXLS)
	if KindOf(err) != KindReadFailed {
		t.Fatalf("expected read failure, got %v", err)
	}
}

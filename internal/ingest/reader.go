package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Spok95/streampoints/internal/models"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format — формат загружаемого файла.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatJSON Format = "json"
)

// MaxFileSize — верхняя граница размера загрузки.
const MaxFileSize = 50 << 20

var supportedExt = []string{".csv", ".xlsx", ".xls", ".json", ".tsv"}

// FormatFromName определяет формат по расширению файла.
func FormatFromName(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".csv":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", newError(KindUnsupportedFormat, "unsupported file format %q; supported: %s",
		ext, strings.Join(supportedExt, ", "))
}

// ReadTable читает файл в таблицу строк. Первая строка — заголовок.
func ReadTable(r io.Reader, format Format) (*models.Table, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, Wrap(KindReadFailed, "read upload", err)
	}
	if len(data) > MaxFileSize {
		return nil, newError(KindReadFailed, "file is larger than %d MB", MaxFileSize>>20)
	}

	var t *models.Table
	switch format {
	case FormatCSV:
		t, err = readDelimited(data, ',')
	case FormatTSV:
		t, err = readDelimited(data, '\t')
	case FormatXLSX, FormatXLS:
		t, err = readWorkbook(data, format)
	case FormatJSON:
		t, err = readJSON(data)
	default:
		return nil, newError(KindUnsupportedFormat, "unsupported file format %q; supported: %s",
			format, strings.Join(supportedExt, ", "))
	}
	if err != nil {
		return nil, Wrap(KindReadFailed, fmt.Sprintf("read %s file", format), err)
	}
	t.Header = uniqueHeader(t.Header)
	return t, nil
}

// decodeText приводит выгрузку к UTF-8: BOM (UTF-8/UTF-16) имеет приоритет,
// невалидный UTF-8 без BOM считаем GB18030 (типичный экспорт из китайского Excel).
func decodeText(b []byte) ([]byte, error) {
	if bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(b, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(b, []byte{0xFE, 0xFF}) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), b)
		return out, err
	}
	if utf8.Valid(b) {
		return b, nil
	}
	out, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), b)
	return out, err
}

func readDelimited(data []byte, comma rune) (*models.Table, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return tableFromRecords(records)
}

func readWorkbook(data []byte, format Format) (*models.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		if format == FormatXLS {
			return nil, fmt.Errorf("legacy .xls workbooks are not readable, save the file as .xlsx: %w", err)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", sheets[0], err)
	}
	return tableFromRecords(rows)
}

// tableFromRecords: заголовок — первая непустая строка.
func tableFromRecords(records [][]string) (*models.Table, error) {
	for i, rec := range records {
		if isBlankRecord(rec) {
			continue
		}
		return &models.Table{Header: rec, Rows: records[i+1:]}, nil
	}
	return nil, errors.New("file has no header row")
}

func isBlankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// uniqueHeader: пустые заголовки получают имя "Unnamed: N", повторы — суффикс ".N".
func uniqueHeader(h []string) []string {
	out := make([]string, len(h))
	seen := make(map[string]int, len(h))
	for i, name := range h {
		name = normalizeHeader(name)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
		}
		out[i] = name
	}
	return out
}

// readJSON понимает массив объектов ([{"col": v}, ...]) и объект колонок
// ({"col": {"0": v, "1": v}}). Порядок ключей сохраняется.
func readJSON(data []byte) (*models.Table, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	text = bytes.TrimSpace(text)
	if len(text) == 0 {
		return nil, errors.New("empty json document")
	}
	switch text[0] {
	case '[':
		return readJSONRecords(text)
	case '{':
		return readJSONColumns(text)
	}
	return nil, errors.New("json must be an array of objects or an object of columns")
}

func readJSONRecords(text []byte) (*models.Table, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(text, &items); err != nil {
		return nil, err
	}
	t := &models.Table{}
	index := map[string]int{}
	var objs []map[string]json.RawMessage
	for _, it := range items {
		keys, obj, err := orderedObject(it)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(t.Header)
				t.Header = append(t.Header, k)
			}
		}
		objs = append(objs, obj)
	}
	for _, obj := range objs {
		row := make([]string, len(t.Header))
		for k, v := range obj {
			row[index[k]] = jsonCell(v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func readJSONColumns(text []byte) (*models.Table, error) {
	cols, obj, err := orderedObject(text)
	if err != nil {
		return nil, err
	}
	t := &models.Table{Header: cols}
	rowIndex := map[string]int{}
	for ci, col := range cols {
		keys, cells, err := orderedObject(obj[col])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		for _, k := range keys {
			ri, ok := rowIndex[k]
			if !ok {
				ri = len(t.Rows)
				rowIndex[k] = ri
				t.Rows = append(t.Rows, make([]string, len(cols)))
			}
			t.Rows[ri][ci] = jsonCell(cells[k])
		}
	}
	return t, nil
}

func orderedObject(raw json.RawMessage) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("expected json object")
	}
	var keys []string
	obj := map[string]json.RawMessage{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := obj[key]; !dup {
			keys = append(keys, key)
		}
		obj[key] = v
	}
	return keys, obj, nil
}

func jsonCell(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return string(v)
}

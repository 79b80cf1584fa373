package export

import (
	"fmt"
	"io"
	"time"

	"github.com/Spok95/streampoints/internal/models"
	"github.com/xuri/excelize/v2"
)

const SummarySheet = "积分汇总"

var summaryHeader = []string{"用户ID", "用户昵称", "总积分", "有效天数", "首次日期", "最近日期", "剩余天数"}

// SummaryWorkbook строит книгу со сводкой баллов арендатора.
func SummaryWorkbook(rows []models.UserPoints, today time.Time, validityDays int) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(summaryHeader))
	for i, h := range summaryHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(SummarySheet, "A1", &header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, u := range rows {
		cell := fmt.Sprintf("A%d", i+2)
		// ID пишем строкой, иначе Excel съест ведущие нули
		row := []any{u.UserID, u.UserName, u.TotalPoints, u.ValidDays,
			dateCell(u.FirstDate), dateCell(u.LastDate), u.DaysLeft(today, validityDays)}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write row %s: %w", cell, err)
		}
	}

	if err := ApplyDefaultExcelFormatting(f, SummarySheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// WriteSummary пишет xlsx со сводкой в w.
func WriteSummary(w io.Writer, rows []models.UserPoints, today time.Time, validityDays int) error {
	f, err := SummaryWorkbook(rows, today, validityDays)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteTo(w)
	return err
}

func dateCell(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

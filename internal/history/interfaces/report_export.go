package interfaces

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"pvhistory/internal/history/application"
)

// Report formats.
const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ErrUnknownFormat is returned for unsupported report formats.
var ErrUnknownFormat = errors.New("report: unknown format")

const tsLayout = "2006-01-02 15:04"

// WriteReports renders the run summary in every format into dir and returns
// the written paths.
func WriteReports(dir, site string, summary application.RunSummary, formats []string) ([]string, error) {
	if len(formats) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := fmt.Sprintf("pvhistory_%s_%s", summary.Started.Format("2006-01-02_150405"), shortID(summary.RunID))

	var paths []string
	for _, format := range formats {
		var (
			data []byte
			err  error
		)
		switch strings.ToLower(format) {
		case FormatXLSX:
			data, err = BuildRunXLSX(site, summary)
		case FormatPDF:
			data, err = BuildRunPDF(site, summary)
		default:
			return paths, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
		}
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, base+"."+strings.ToLower(format))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// BuildRunPDF renders a minimal PDF for a run.
func BuildRunPDF(site string, summary application.RunSummary) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "PV History Backfill")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Site: %s", site))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Run: %s", summary.RunID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Started: %s", summary.Started.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Finished: %s", summary.Finished.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Records: %d", summary.Records()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Incomplete windows: %d", len(summary.Incomplete())))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Job", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Windows", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Incomplete", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Issues", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Records", "1", 0, "C", false, 0, "")
	pdf.CellFormat(100, 6, "Error", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, job := range summary.Jobs {
		pdf.CellFormat(40, 6, job.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", len(job.Windows)), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", len(job.Incomplete())), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", job.IssueCount()), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", job.Records), "1", 0, "R", false, 0, "")
		pdf.CellFormat(100, 6, errText(job.Err), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	if incomplete := summary.Incomplete(); len(incomplete) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 6, "Job", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Period", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Start", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "Devices", "1", 0, "C", false, 0, "")
		pdf.CellFormat(125, 6, "Unavailable", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, w := range incomplete {
			pdf.CellFormat(40, 6, w.Job, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, string(w.Period), "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, w.Start.Format(tsLayout), "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, fmt.Sprintf("%d/%d", w.Merged, w.Expected), "1", 0, "R", false, 0, "")
			pdf.CellFormat(125, 6, strings.Join(w.Unavailable, ", "), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildRunXLSX renders a run as a workbook with summary, windows and issues
// sheets.
func BuildRunXLSX(site string, summary application.RunSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	windowsSheet := "windows"
	issuesSheet := "issues"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(windowsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(issuesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "PV History Backfill")
	_ = f.SetCellValue(summarySheet, "A3", "Site")
	_ = f.SetCellValue(summarySheet, "B3", site)
	_ = f.SetCellValue(summarySheet, "A4", "Run")
	_ = f.SetCellValue(summarySheet, "B4", summary.RunID)
	_ = f.SetCellValue(summarySheet, "A5", "Started")
	_ = f.SetCellValue(summarySheet, "B5", summary.Started.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Finished")
	_ = f.SetCellValue(summarySheet, "B6", summary.Finished.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A7", "Records")
	_ = f.SetCellValue(summarySheet, "B7", summary.Records())
	_ = f.SetCellValue(summarySheet, "A8", "Incomplete windows")
	_ = f.SetCellValue(summarySheet, "B8", len(summary.Incomplete()))

	_ = f.SetSheetRow(summarySheet, "A10", &[]interface{}{"Job", "Windows", "Incomplete", "Issues", "Records", "Error"})
	for i, job := range summary.Jobs {
		cell := fmt.Sprintf("A%d", 11+i)
		_ = f.SetSheetRow(summarySheet, cell, &[]interface{}{job.Name, len(job.Windows), len(job.Incomplete()), job.IssueCount(), job.Records, errText(job.Err)})
	}

	_ = f.SetSheetRow(windowsSheet, "A1", &[]interface{}{"Job", "Period", "Start", "Stop", "Expected", "Merged", "Complete", "Attempts", "Records", "Unavailable"})
	_ = f.SetSheetRow(issuesSheet, "A1", &[]interface{}{"Job", "Window", "Kind", "Device", "At", "Detail"})
	windowRow, issueRow := 2, 2
	for _, job := range summary.Jobs {
		for _, w := range job.Windows {
			_ = f.SetSheetRow(windowsSheet, fmt.Sprintf("A%d", windowRow), &[]interface{}{
				w.Job, string(w.Period), w.Start.Format(tsLayout), w.Stop.Format(tsLayout),
				w.Expected, w.Merged, w.Complete, w.Attempts, w.Records, strings.Join(w.Unavailable, ", "),
			})
			windowRow++
			for _, issue := range w.Issues {
				at := ""
				if !issue.At.IsZero() {
					at = issue.At.Format(tsLayout)
				}
				_ = f.SetSheetRow(issuesSheet, fmt.Sprintf("A%d", issueRow), &[]interface{}{
					w.Job, w.Start.Format(tsLayout), string(issue.Kind), issue.Device, at, errText(issue.Err),
				})
				issueRow++
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}

package refresh

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/deltran/screening/internal/types"
)

// ExportSummary writes a one-sheet spreadsheet summarizing a RefreshRun's
// counters, for operators who want a record of a sweep outside the
// operational dashboard.
func ExportSummary(run types.RefreshRun, filePath string) error {
	const sheetName = "Refresh Summary"

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")

	rows := [][2]interface{}{
		{"refresh_run_id", run.RefreshRunID.String()},
		{"ran_at", run.RanAt.Format(time.RFC3339)},
		{"sanctions_rows", run.SanctionsRows},
		{"peps_rows", run.PEPsRows},
		{"uk_row_count", run.UKRowCount},
		{"uk_hash", run.UKHash},
		{"prev_uk_hash", run.PrevUKHash},
		{"uk_changed", run.UKChanged},
		{"added", run.Added},
		{"removed", run.Removed},
		{"changed", run.Changed},
		{"candidate", run.Candidate},
		{"queued", run.Queued},
		{"already_pending", run.AlreadyPending},
		{"reused", run.Reused},
		{"failed", run.Failed},
	}

	for i, row := range rows {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valCell, _ := excelize.CoordinatesToCellName(2, i+1)
		f.SetCellValue(sheetName, keyCell, row[0])
		f.SetCellValue(sheetName, valCell, row[1])
	}

	f.SetActiveSheet(index)
	return f.SaveAs(filePath)
}

package admin

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/eficia/eficia-api/internal/domain/ledger"
)

// maxExportRows caps a single workbook.
const maxExportRows = 50000

const exportSheet = "Transactions"

var exportHeaders = []string{"Date", "Owner", "Kind", "Amount", "Balance after", "Description", "Job", "Pack"}

// ExportTransactions writes the transactions matching f as an xlsx workbook.
// f.Limit and f.Offset are ignored; rows are paged internally.
func (s *Service) ExportTransactions(ctx context.Context, c Capability, f ledger.TransactionFilter, w io.Writer) (int, error) {
	if err := c.require(PermViewCredits); err != nil {
		return 0, err
	}

	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetSheetName(wb.GetSheetName(0), exportSheet); err != nil {
		return 0, err
	}
	for i, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		wb.SetCellValue(exportSheet, cell, header)
	}

	const pageSize = 100
	rows := 0
	for offset := 0; offset < maxExportRows; offset += pageSize {
		f.Limit, f.Offset = pageSize, offset
		page, err := s.ledger.ListTransactions(ctx, f)
		if err != nil {
			return 0, fmt.Errorf("list transactions: %w", err)
		}

		for _, t := range page {
			row := rows + 2
			wb.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), t.CreatedAt.UTC().Format(time.DateTime))
			wb.SetCellValue(exportSheet, fmt.Sprintf("B%d", row), t.OwnerID.String())
			wb.SetCellValue(exportSheet, fmt.Sprintf("C%d", row), string(t.Kind))
			wb.SetCellValue(exportSheet, fmt.Sprintf("D%d", row), t.Amount)
			wb.SetCellValue(exportSheet, fmt.Sprintf("E%d", row), t.BalanceAfter)
			wb.SetCellValue(exportSheet, fmt.Sprintf("F%d", row), t.Description)
			if t.RelatedJobID.Valid {
				wb.SetCellValue(exportSheet, fmt.Sprintf("G%d", row), t.RelatedJobID.UUID.String())
			}
			if t.RelatedPackID != nil {
				wb.SetCellValue(exportSheet, fmt.Sprintf("H%d", row), *t.RelatedPackID)
			}
			rows++
		}

		if len(page) < pageSize {
			break
		}
	}

	if err := wb.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return rows, nil
}

package gsheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ailayologylab/threads-analytics-public/pkg/models"
)

const (
	spreadsheetScope = "https://www.googleapis.com/auth/spreadsheets"

	columnCount   = 15
	postDateCol   = 2
	engagementCol = 13
	rateCol       = 14
)

// Exporter uploads post rows to a worksheet and mirrors the worksheet back
// to the local CSV backup.
type Exporter struct {
	svc           *sheets.Service
	logger        *log.Logger
	spreadsheetID string
	sheetName     string
	csvPath       string
}

// NewExporter builds a Sheets service from raw service-account JSON.
func NewExporter(ctx context.Context, serviceAccountJSON []byte, spreadsheetID, sheetName, csvPath string, logger *log.Logger) (*Exporter, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(serviceAccountJSON),
		option.WithScopes(spreadsheetScope),
	)
	if err != nil {
		return nil, fmt.Errorf("building sheets service: %w", err)
	}
	return &Exporter{
		svc:           svc,
		logger:        logger,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		csvPath:       csvPath,
	}, nil
}

// Verify checks that the spreadsheet is reachable with the stored
// credentials and returns its metadata.
func (e *Exporter) Verify(ctx context.Context) (*sheets.Spreadsheet, error) {
	sp, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("accessing spreadsheet: %w", err)
	}
	return sp, nil
}

// ExportPosts appends the posts to the worksheet in batches, runs the
// post-upload formatting pass, and refreshes the local CSV mirror.
func (e *Exporter) ExportPosts(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		e.logger.Warn("no posts to export")
		return nil
	}

	sp, err := e.Verify(ctx)
	if err != nil {
		return err
	}
	sheetID, err := e.ensureSheet(ctx, sp)
	if err != nil {
		return err
	}

	existing, err := e.sheetValues(ctx)
	if err != nil {
		return err
	}
	needHeader := len(existing) == 0

	size := batchSize(len(posts))
	e.logger.Info("uploading posts", "total", len(posts), "batch_size", size)

	for start := 0; start < len(posts); start += size {
		end := start + size
		if end > len(posts) {
			end = len(posts)
		}
		rows := make([][]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			rows = append(rows, posts[i].SheetRow())
		}
		if err := e.appendRows(ctx, rows, needHeader); err != nil {
			return err
		}
		needHeader = false
		e.logger.Info("uploaded batch", "from", start+1, "to", end)
	}

	if err := e.format(ctx, sheetID); err != nil {
		return err
	}
	if err := e.MirrorToCSV(ctx); err != nil {
		return err
	}

	e.logger.Info("export finished", "total", len(posts))
	return nil
}

// batchSize follows the original upload heuristic: small datasets go up in
// one or two batches of 50, larger ones in two halves.
func batchSize(total int) int {
	if total <= 100 {
		return 50
	}
	if half := total / 2; half > 50 {
		return half
	}
	return 50
}

func (e *Exporter) ensureSheet(ctx context.Context, sp *sheets.Spreadsheet) (int64, error) {
	for _, sheet := range sp.Sheets {
		if sheet.Properties.Title == e.sheetName {
			return sheet.Properties.SheetId, nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: e.sheetName},
			},
		}},
	}
	resp, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("creating worksheet %s: %w", e.sheetName, err)
	}
	sheetID := resp.Replies[0].AddSheet.Properties.SheetId
	e.logger.Info("created worksheet", "name", e.sheetName, "sheet_id", sheetID)
	return sheetID, nil
}

func (e *Exporter) sheetValues(ctx context.Context) ([][]interface{}, error) {
	resp, err := e.svc.Spreadsheets.Values.
		Get(e.spreadsheetID, e.sheetName+"!A:Z").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading worksheet values: %w", err)
	}
	return resp.Values, nil
}

func (e *Exporter) appendRows(ctx context.Context, rows [][]interface{}, withHeader bool) error {
	values := rows
	if withHeader {
		header := make([]interface{}, 0, columnCount)
		for _, name := range models.Header() {
			header = append(header, name)
		}
		values = append([][]interface{}{header}, rows...)
	}

	_, err := e.svc.Spreadsheets.Values.
		Append(e.spreadsheetID, e.sheetName+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending rows: %w", err)
	}
	return nil
}

// format sorts by engagement so the duplicate pass keeps the richer record,
// de-duplicates on identity columns, then restores date order and resizes.
func (e *Exporter) format(ctx context.Context, sheetID int64) error {
	dataRange := &sheets.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    1,
		StartColumnIndex: 0,
		EndColumnIndex:   columnCount,
	}

	comparisonColumns := make([]*sheets.DimensionRange, 0, 3)
	for _, col := range []int64{0, 1, postDateCol} {
		comparisonColumns = append(comparisonColumns, &sheets.DimensionRange{
			SheetId:    sheetID,
			Dimension:  "COLUMNS",
			StartIndex: col,
			EndIndex:   col + 1,
		})
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{SortRange: &sheets.SortRangeRequest{
				Range:     dataRange,
				SortSpecs: []*sheets.SortSpec{{DimensionIndex: engagementCol, SortOrder: "DESCENDING"}},
			}},
			{DeleteDuplicates: &sheets.DeleteDuplicatesRequest{
				Range:             dataRange,
				ComparisonColumns: comparisonColumns,
			}},
			{SortRange: &sheets.SortRangeRequest{
				Range:     dataRange,
				SortSpecs: []*sheets.SortSpec{{DimensionIndex: postDateCol, SortOrder: "DESCENDING"}},
			}},
			{RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    1,
					StartColumnIndex: rateCol,
					EndColumnIndex:   rateCol + 1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{Type: "PERCENT", Pattern: "0.00%"},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			}},
			{AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columnCount,
				},
			}},
		},
	}

	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("formatting worksheet: %w", err)
	}
	e.logger.Debug("worksheet formatted", "sheet_id", sheetID)
	return nil
}

// MirrorToCSV downloads the worksheet and rewrites the local CSV backup so
// it matches the sheet after de-duplication and sorting.
func (e *Exporter) MirrorToCSV(ctx context.Context) error {
	values, err := e.sheetValues(ctx)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		e.logger.Warn("worksheet is empty, skipping csv mirror")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(e.csvPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	f, err := os.Create(e.csvPath)
	if err != nil {
		return fmt.Errorf("creating csv backup: %w", err)
	}
	defer f.Close()

	// BOM keeps Excel happy with non-ASCII content
	if _, err := f.WriteString("\uFEFF"); err != nil {
		return fmt.Errorf("writing csv backup: %w", err)
	}

	w := csv.NewWriter(f)
	for _, row := range values {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = fmt.Sprint(cell)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing csv backup: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing csv backup: %w", err)
	}

	e.logger.Info("csv backup refreshed", "path", e.csvPath, "rows", len(values)-1)
	return nil
}

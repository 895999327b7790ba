package gcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"google.golang.org/api/sheets/v4"
)

// SheetRegistry reads the client registry: column A holds the client name, column B the
// email address. There is no header row.
type SheetRegistry struct {
	svc     *sheets.Service
	sheetID string
	rng     string
}

func NewSheetRegistry(ctx context.Context, credentialsFile, sheetID, rng string) (*SheetRegistry, error) {
	opts, err := ClientOptions(ctx, credentialsFile, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets client: %w", err)
	}
	if rng == "" {
		rng = "A:B"
	}
	return &SheetRegistry{svc: svc, sheetID: sheetID, rng: rng}, nil
}

func (r *SheetRegistry) ListClients(ctx context.Context) ([]models.ClientRecord, error) {
	resp, err := r.svc.Spreadsheets.Values.Get(r.sheetID, r.rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read client registry: %w", err)
	}
	return ParseClientRows(resp.Values), nil
}

// ParseClientRows trims both cells and drops rows where either is blank.
func ParseClientRows(rows [][]interface{}) []models.ClientRecord {
	out := []models.ClientRecord{}
	for _, row := range rows {
		name, email := cell(row, 0), cell(row, 1)
		if name == "" || email == "" {
			continue
		}
		out = append(out, models.ClientRecord{Name: name, Email: email})
	}
	return out
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"jobcard-backend/internal/logging"
	"jobcard-backend/internal/models"
)

const Sheet = "Job Cards"

var headers = []string{
	"Job Card ID",
	"Service Date",
	"Hospital",
	"Machine Type",
	"Machine Model",
	"Serial Number",
	"Problem Reported",
	"Service Performed",
	"Engineer",
	"Status",
	"Manual Upload",
	"Manual Reason",
	"Created At",
	"Synced",
}

// Service renders job cards as an XLSX workbook for admins.
type Service struct {
	loc *time.Location
}

func NewService(loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{loc: loc}
}

func (s *Service) Location() *time.Location { return s.loc }

// Filter keeps cards created within [from, to]. Either bound may be nil; to
// is inclusive of the whole day.
func Filter(cards []models.JobCard, from, to *time.Time) []models.JobCard {
	out := make([]models.JobCard, 0, len(cards))
	for _, c := range cards {
		if from != nil && c.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && !c.CreatedAt.Before(to.AddDate(0, 0, 1)) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// JobCardsXLSX writes one row per card under a header row. pending marks
// cards that only exist on this device.
func (s *Service) JobCardsXLSX(ctx context.Context, cards []models.JobCard, pending map[string]bool) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", Sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(Sheet, cell, h)
	}

	for i, c := range cards {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(Sheet, cell, v)
		}

		write(1, c.ID)
		write(2, c.DateTime)
		write(3, c.HospitalName)
		write(4, c.MachineType)
		write(5, c.MachineModel)
		write(6, c.SerialNumber)
		write(7, c.ProblemReported)
		write(8, c.ServicePerformed)
		write(9, c.EngineerName)
		write(10, string(c.Status))
		write(11, yesNo(c.ManualUpload))
		write(12, c.ManualReason)
		write(13, c.CreatedAt.In(s.loc).Format("2006-01-02 15:04"))
		write(14, yesNo(!pending[c.ID]))
	}

	_ = f.SetColWidth(Sheet, "A", "A", 14)
	_ = f.SetColWidth(Sheet, "B", "B", 18)
	_ = f.SetColWidth(Sheet, "C", "C", 28)
	_ = f.SetColWidth(Sheet, "D", "F", 18)
	_ = f.SetColWidth(Sheet, "G", "H", 48)
	_ = f.SetColWidth(Sheet, "I", "I", 22)
	_ = f.SetColWidth(Sheet, "L", "L", 36)
	_ = f.SetColWidth(Sheet, "M", "M", 18)
	_ = f.SetPanes(Sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	logging.Info(ctx, "job card export written",
		slog.Int("rows", len(cards)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return buf.Bytes(), nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

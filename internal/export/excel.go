package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"erpsync/internal/domain"
	"erpsync/internal/models"

	"github.com/xuri/excelize/v2"
)

// Exporter writes operator-facing Excel reports.
type Exporter struct {
	entities domain.EntityRepository
	jobs     domain.JobRepository
	dir      string
}

func NewExporter(entities domain.EntityRepository, jobs domain.JobRepository, dir string) *Exporter {
	if dir == "" {
		dir = "exports"
	}
	return &Exporter{entities: entities, jobs: jobs, dir: dir}
}

// ExportEntities dumps every live record of a module into an .xlsx file and
// returns its path.
func (e *Exporter) ExportEntities(ctx context.Context, module string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := module
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Remote ID", "Name", "Email", "Phone", "Remote Modified", "Updated"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	var entities []models.Entity
	page := 0
	for {
		result, err := e.entities.FindPaged(ctx, module, models.EntityFilter{}, page, 500)
		if err != nil {
			return "", fmt.Errorf("read entities: %w", err)
		}
		entities = append(entities, result.Items...)
		page++
		if page >= result.Pagination.PageCount {
			break
		}
	}

	// Операторам удобнее стабильный порядок по внешнему id, а не по updated_at.
	sort.Slice(entities, func(i, j int) bool { return entities[i].RemoteID < entities[j].RemoteID })

	for i := range entities {
		entity := &entities[i]
		modified := ""
		if entity.RemoteModifiedAt != nil {
			modified = entity.RemoteModifiedAt.Format(time.RFC3339)
		}
		values := []interface{}{entity.RemoteID, entity.DisplayName, entity.Email, entity.Phone, modified, entity.UpdatedAt.Format(time.RFC3339)}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "F", 24)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("%s_%s.xlsx", module, time.Now().Format("2006-01-02_150405"))
	path := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}
	return path, nil
}

// ExportFailedJobs dumps the failed-job table for inspection.
func (e *Exporter) ExportFailedJobs(ctx context.Context, module string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Failed Jobs"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Job ID", "Module", "Attempts", "Error", "Created", "Resolved"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	row := 2
	page := 0
	for {
		jobs, total, err := e.jobs.ListFailedJobs(ctx, module, page, 500)
		if err != nil {
			return "", fmt.Errorf("read failed jobs: %w", err)
		}
		for i := range jobs {
			job := &jobs[i]
			values := []interface{}{job.JobID, job.Module, job.Attempts, job.Error, job.CreatedAt.Format(time.RFC3339), job.Resolved}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				_ = f.SetCellValue(sheetName, cell, v)
			}
			row++
		}
		page++
		if page*500 >= total || len(jobs) == 0 {
			break
		}
	}

	_ = f.SetColWidth(sheetName, "A", "F", 28)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("failed_jobs_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	path := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}
	return path, nil
}

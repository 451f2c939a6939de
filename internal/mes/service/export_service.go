package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/xuri/excelize/v2"
)

var queueExportHeaders = []string{
	"位置", "工单号", "工序号", "工序编码", "工序名称", "状态",
	"优先级", "计划调机(分)", "计划加工(分)", "预计等待(分)", "操作员",
}

// ExportService 报表导出
type ExportService struct {
	woRepo *repository.WorkOrderRepository
	wcRepo *repository.WorkCenterRepository
	authz  Authorizer
	now    func() time.Time
}

// NewExportService 创建导出服务
func NewExportService(repos *repository.Repositories, authz Authorizer) *ExportService {
	return &ExportService{woRepo: repos.WorkOrder, wcRepo: repos.WorkCenter, authz: authz, now: time.Now}
}

// ExportQueue 导出工作中心队列为xlsx
func (s *ExportService) ExportQueue(ctx context.Context, p Principal, workCenterID string) (*excelize.File, string, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkOrderRead); err != nil {
		return nil, "", err
	}
	wc, err := s.wcRepo.FindByID(ctx, workCenterID)
	if err != nil {
		return nil, "", err
	}
	entries, err := s.wcRepo.ListQueue(ctx, workCenterID)
	if err != nil {
		return nil, "", fmt.Errorf("list queue: %w", err)
	}

	f := excelize.NewFile()
	sheet := "Queue"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range queueExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	numbers := map[string]string{}
	var totalMinutes int
	for idx, e := range entries {
		row := idx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), e.Position)
		f.SetCellValue(sheet, fmt.Sprintf("J%d", row), e.EstimatedWaitMinutes)
		if e.Operation == nil {
			continue
		}
		op := e.Operation
		number, ok := numbers[op.WorkOrderID]
		if !ok {
			if wo, err := s.woRepo.FindByID(ctx, op.WorkOrderID); err == nil {
				number = wo.Number
			}
			numbers[op.WorkOrderID] = number
		}
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), number)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), op.Sequence)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), op.Code)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), op.Name)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), op.Status)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), op.Priority)
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), op.PlannedSetupMinutes)
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), op.PlannedRunMinutes)
		if op.AssignedUserID != nil {
			f.SetCellValue(sheet, fmt.Sprintf("K%d", row), *op.AssignedUserID)
		}
		totalMinutes += op.PlannedSetupMinutes + op.PlannedRunMinutes
	}

	summaryRow := len(entries) + 2
	summaryStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "汇总")
	f.SetCellValue(sheet, fmt.Sprintf("E%d", summaryRow), fmt.Sprintf("排队工序: %d", len(entries)))
	f.SetCellValue(sheet, fmt.Sprintf("I%d", summaryRow), totalMinutes)
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("K%d", summaryRow), summaryStyle)

	colWidths := []float64{6, 14, 8, 12, 20, 10, 8, 12, 12, 12, 16}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("Queue_%s_%s.xlsx", wc.Code, s.now().Format("20060102"))
	return f, filename, nil
}

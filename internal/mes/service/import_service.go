package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ImportResult 导入结果
type ImportResult struct {
	RoutingID string   `json:"routing_id"`
	Success   int      `json:"created"`
	Failed    int      `json:"errors"`
	Messages  []string `json:"messages,omitempty"`
}

// RoutingImportRequest 工艺路线导入参数
type RoutingImportRequest struct {
	PartID   string
	Name     string
	Revision string
	// gbk 或 utf-8，默认 utf-8
	Encoding string
}

// ImportService 工艺路线模板导入
type ImportService struct {
	partRepo *repository.PartRepository
	wcRepo   *repository.WorkCenterRepository
	authz    Authorizer
	logger   *zap.Logger
}

// NewImportService 创建导入服务
func NewImportService(repos *repository.Repositories, authz Authorizer, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{partRepo: repos.Part, wcRepo: repos.WorkCenter, authz: authz, logger: logger.Named("import")}
}

// ImportRouting 从CSV导入零件工艺路线并设为当前生效版本。
// 列：工序号,工序编码,工序名称,工作中心编码,调机分钟,单件加工分钟[,默认操作员]
// 第一行为表头。任一行有误则整体不导入。
func (s *ImportService) ImportRouting(ctx context.Context, p Principal, req RoutingImportRequest, reader io.Reader) (*ImportResult, error) {
	if err := s.authz.Authorize(ctx, p, entity.PermWorkCenterManage); err != nil {
		return nil, err
	}
	if _, err := s.partRepo.FindByID(ctx, req.PartID); err != nil {
		return nil, err
	}

	switch strings.ToLower(req.Encoding) {
	case "", "utf-8", "utf8":
	case "gbk":
		// GBK → UTF-8
		reader = transform.NewReader(reader, simplifiedchinese.GBK.NewDecoder())
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrInvalidInput, req.Encoding)
	}

	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", ErrInvalidInput, err)
	}

	result := &ImportResult{}
	rt := &entity.Routing{
		ID:        uuid.NewString(),
		PartID:    req.PartID,
		Name:      req.Name,
		Revision:  req.Revision,
		IsActive:  true,
		CreatedBy: p.UserID,
	}
	if rt.Name == "" {
		rt.Name = "imported"
	}
	if rt.Revision == "" {
		rt.Revision = "A"
	}

	centers := map[string]string{}
	for i, row := range rows {
		if i == 0 {
			continue // 表头
		}
		line := i + 1
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		step, err := s.parseStep(ctx, row, centers)
		if err != nil {
			result.Failed++
			result.Messages = append(result.Messages, fmt.Sprintf("第%d行: %v", line, err))
			continue
		}
		step.ID = uuid.NewString()
		step.RoutingID = rt.ID
		rt.Steps = append(rt.Steps, step)
		result.Success++
	}

	if result.Failed > 0 {
		result.Success = 0
		return result, fmt.Errorf("%w: %d invalid rows", ErrInvalidInput, result.Failed)
	}
	if len(rt.Steps) == 0 {
		return result, fmt.Errorf("%w: no routing steps", ErrInvalidInput)
	}
	sort.SliceStable(rt.Steps, func(i, j int) bool { return rt.Steps[i].Sequence < rt.Steps[j].Sequence })

	if err := s.partRepo.ReplaceActiveRouting(ctx, rt); err != nil {
		return nil, persistence("replace active routing", err)
	}
	result.RoutingID = rt.ID
	s.logger.Info("routing imported",
		zap.String("part_id", req.PartID),
		zap.String("routing_id", rt.ID),
		zap.Int("steps", len(rt.Steps)))
	return result, nil
}

func (s *ImportService) parseStep(ctx context.Context, row []string, centers map[string]string) (entity.RoutingStep, error) {
	var step entity.RoutingStep
	if len(row) < 6 {
		return step, fmt.Errorf("至少需要6列，实际 %d 列", len(row))
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	seq, err := strconv.Atoi(row[0])
	if err != nil || seq < 1 {
		return step, fmt.Errorf("工序号无效: %q", row[0])
	}
	if row[2] == "" {
		return step, errors.New("工序名称为空")
	}
	wcID, ok := centers[row[3]]
	if !ok {
		wc, err := s.wcRepo.FindByCode(ctx, row[3])
		if err != nil {
			return step, fmt.Errorf("工作中心不存在: %s", row[3])
		}
		wcID = wc.ID
		centers[row[3]] = wcID
	}
	setup, err := strconv.Atoi(row[4])
	if err != nil || setup < 0 {
		return step, fmt.Errorf("调机分钟无效: %q", row[4])
	}
	run, err := strconv.ParseFloat(row[5], 64)
	if err != nil || run < 0 {
		return step, fmt.Errorf("加工分钟无效: %q", row[5])
	}

	step.Sequence = seq
	step.Code = row[1]
	step.Name = row[2]
	step.WorkCenterID = wcID
	step.SetupMinutes = setup
	step.RunMinutes = run
	if len(row) > 6 && row[6] != "" {
		assignee := row[6]
		step.DefaultAssignee = &assignee
	}
	return step, nil
}

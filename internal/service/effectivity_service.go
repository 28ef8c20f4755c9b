package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/engine"
	"github.com/bitfantasy/nimo-ipd/internal/metrics"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
)

// EffectivityService 有效性解析服务，只读
type EffectivityService struct {
	repos  *repository.Repositories
	opts   Options
	logger *zap.Logger
}

// NewEffectivityService 创建有效性解析服务
func NewEffectivityService(repos *repository.Repositories, opts Options, logger *zap.Logger) *EffectivityService {
	return &EffectivityService{repos: repos, opts: opts, logger: logger}
}

// ResolveResult 文档在某线号上的解析结果
type ResolveResult struct {
	DocumentID     string `json:"document_id"`
	DocumentNumber string `json:"document_number"`
	RevisionID     string `json:"revision_id"`
	Revision       string `json:"revision"`
	engine.Resolution
}

// loadRevision revisionID 为空时取文档当前已批准版本
func (s *EffectivityService) loadRevision(ctx context.Context, documentID, revisionID string) (*entity.Revision, error) {
	if revisionID == "" {
		return s.repos.Revision.FindApproved(ctx, documentID)
	}
	rev, err := s.repos.Revision.FindWithParts(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if rev.DocumentID != documentID {
		return nil, apperr.Validation("revision %s does not belong to document %s", revisionID, documentID)
	}
	return rev, nil
}

// Resolve 解析文档对指定线号有效的零件
func (s *EffectivityService) Resolve(ctx context.Context, documentID, revisionID string, lineNumber int) (*ResolveResult, error) {
	start := time.Now()
	defer func() { metrics.ResolveDuration.Observe(time.Since(start).Seconds()) }()

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	doc, err := s.repos.Document.FindByID(opCtx, documentID)
	if err != nil {
		return nil, fmt.Errorf("resolve effectivity: %w", err)
	}
	rev, err := s.loadRevision(opCtx, documentID, revisionID)
	if err != nil {
		if errors.Is(err, apperr.ErrInvariantViolation) {
			metrics.InvariantViolations.Inc()
			s.logger.Error("baseline lookup failed", zap.String("document_id", documentID), zap.Error(err))
		}
		return nil, fmt.Errorf("resolve effectivity: %w", err)
	}
	return &ResolveResult{
		DocumentID:     doc.ID,
		DocumentNumber: doc.DocumentNumber,
		RevisionID:     rev.ID,
		Revision:       rev.Revision,
		Resolution:     engine.Split(rev.Parts, lineNumber, engine.NonApplicableLimit),
	}, nil
}

// CheckResult 单个件号的适用性
type CheckResult struct {
	PartNumber string                `json:"part_number"`
	LineNumber int                   `json:"line_number"`
	RevisionID string                `json:"revision_id"`
	Applicable bool                  `json:"applicable"`
	Found      bool                  `json:"found"`
	Matches    []entity.RevisionPart `json:"matches"`
}

// Check 判断单个件号是否适用于线号
func (s *EffectivityService) Check(ctx context.Context, documentID, revisionID string, lineNumber int, partNumber string) (*CheckResult, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	rev, err := s.loadRevision(opCtx, documentID, revisionID)
	if err != nil {
		return nil, fmt.Errorf("check effectivity: %w", err)
	}
	pn := entity.NormalizePartNumber(partNumber)
	var entries []entity.RevisionPart
	for _, p := range rev.Parts {
		if p.PartNumber == pn {
			entries = append(entries, p)
		}
	}
	matches := engine.Resolve(entries, lineNumber)
	return &CheckResult{
		PartNumber: pn,
		LineNumber: lineNumber,
		RevisionID: rev.ID,
		Applicable: len(matches) > 0,
		Found:      len(entries) > 0,
		Matches:    matches,
	}, nil
}

// LineResult 某线号在单个文档中的适用零件
type LineResult struct {
	DocumentID     string                `json:"document_id"`
	DocumentNumber string                `json:"document_number"`
	RevisionID     string                `json:"revision_id"`
	Revision       string                `json:"revision"`
	Parts          []entity.RevisionPart `json:"parts"`
}

// ResolveLine 并行解析机型下所有文档，没有已批准版本的文档跳过
func (s *EffectivityService) ResolveLine(ctx context.Context, aircraftModel string, lineNumber int) ([]LineResult, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	docs, err := s.repos.Document.ListByAircraftModel(opCtx, aircraftModel)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var (
		mu      sync.Mutex
		results = make([]LineResult, 0, len(docs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ResolveConcurrency)
	for _, doc := range docs {
		g.Go(func() error {
			opCtx, cancel := withTimeout(gctx, s.opts.OpTimeout)
			defer cancel()
			rev, err := s.repos.Revision.FindApproved(opCtx, doc.ID)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("document %s: %w", doc.DocumentNumber, err)
			}
			res := LineResult{
				DocumentID:     doc.ID,
				DocumentNumber: doc.DocumentNumber,
				RevisionID:     rev.ID,
				Revision:       rev.Revision,
				Parts:          engine.Resolve(rev.Parts, lineNumber),
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve line %d: %w", lineNumber, err)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].DocumentNumber < results[j].DocumentNumber
	})
	return results, nil
}

var effectivityExportHeaders = []string{
	"序号", "件号", "名称", "图号", "项号", "供应商代码", "单机用量", "服务通告", "有效性", "贴纸类型",
}

// Export 导出解析结果为 Excel
func (s *EffectivityService) Export(ctx context.Context, documentID, revisionID string, lineNumber int) (*excelize.File, string, error) {
	res, err := s.Resolve(ctx, documentID, revisionID, lineNumber)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "Effectivity"
	f.SetSheetName("Sheet1", sheet)

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, h := range effectivityExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for idx, p := range res.Applicable {
		row := idx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), idx+1)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), p.PartNumber)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), p.Nomenclature)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), p.Figure)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), p.Item)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), p.SupplierCode)
		if p.UPA != nil {
			f.SetCellValue(sheet, fmt.Sprintf("G%d", row), *p.UPA)
		}
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), p.SBReference)
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), p.Effectivity.String())
		if p.Sticker != nil {
			f.SetCellValue(sheet, fmt.Sprintf("J%d", row), string(p.Sticker.StickerType))
		}
	}

	f.SetColWidth(sheet, "A", "A", 6)
	f.SetColWidth(sheet, "B", "B", 20)
	f.SetColWidth(sheet, "C", "C", 36)
	f.SetColWidth(sheet, "D", "H", 12)
	f.SetColWidth(sheet, "I", "I", 24)
	f.SetColWidth(sheet, "J", "J", 12)

	filename := fmt.Sprintf("%s_%s_line%d.xlsx", res.DocumentNumber, res.Revision, lineNumber)
	return f, filename, nil
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
)

// DocumentService 文档服务
type DocumentService struct {
	repos *repository.Repositories
	opts  Options
}

// NewDocumentService 创建文档服务
func NewDocumentService(repos *repository.Repositories, opts Options) *DocumentService {
	return &DocumentService{repos: repos, opts: opts}
}

// CreateDocumentRequest 创建文档请求
type CreateDocumentRequest struct {
	DocumentType   string `json:"document_type" binding:"required"`
	DocumentNumber string `json:"document_number" binding:"required"`
	Revision       string `json:"revision" binding:"required"`
	AircraftModel  string `json:"aircraft_model" binding:"required"`
	Title          string `json:"title"`
}

// Create 创建文档
func (s *DocumentService) Create(ctx context.Context, userID string, req *CreateDocumentRequest) (*entity.Document, error) {
	docType := entity.DocumentType(strings.ToUpper(strings.TrimSpace(req.DocumentType)))
	if !docType.Valid() {
		return nil, apperr.Validation("unknown document type %q", req.DocumentType)
	}
	number := strings.TrimSpace(req.DocumentNumber)
	label := strings.TrimSpace(req.Revision)
	model := strings.TrimSpace(req.AircraftModel)
	if number == "" || label == "" || model == "" {
		return nil, apperr.Validation("document_number, revision and aircraft_model are required")
	}

	doc := &entity.Document{
		ID:             entity.NewID(),
		DocumentType:   docType,
		DocumentNumber: number,
		Revision:       label,
		AircraftModel:  model,
		Title:          strings.TrimSpace(req.Title),
		CreatedBy:      userID,
		CreatedAt:      time.Now(),
	}

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	if err := s.repos.Document.Create(opCtx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// Get 获取文档
func (s *DocumentService) Get(ctx context.Context, id string) (*entity.Document, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	doc, err := s.repos.Document.FindByID(opCtx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// List 获取文档列表
func (s *DocumentService) List(ctx context.Context, page, pageSize int, filters map[string]interface{}) ([]entity.Document, int64, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	docs, total, err := s.repos.Document.List(opCtx, page, pageSize, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return docs, total, nil
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/payout/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
)

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PayoutBatch, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}
	batch, err := s.repo.GetBatch(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrNotFound
	}
	return batch, nil
}

func (s *Service) Items(ctx context.Context, id snowflake.ID) ([]domain.PayoutBatchItem, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{
		CreatorID: strings.TrimSpace(req.CreatorID),
		Status:    strings.ToLower(strings.TrimSpace(req.Status)),
		Limit:     req.Limit(),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil || cursor == nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil || id == 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.BeforeID = &id
	}

	items, err := s.repo.ListBatches(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *domain.PayoutBatch) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	resp := domain.ListResponse{Batches: make([]domain.PayoutBatch, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.Batches = append(resp.Batches, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Candidates(ctx context.Context, asOf time.Time, minimum int64) ([]domain.Candidate, error) {
	if minimum <= 0 {
		minimum = s.minimum
	}
	return s.repo.Candidates(ctx, s.db, asOf.UTC(), minimum)
}

func (s *Service) StaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.PayoutBatch, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	return s.repo.StaleProcessing(ctx, s.db, cutoff.UTC(), limit)
}

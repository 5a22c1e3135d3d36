package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/refund/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
)

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.RefundRequest, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}
	request, err := s.repo.Get(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, domain.ErrNotFound
	}
	return request, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{
		Status: strings.ToLower(strings.TrimSpace(req.Status)),
		Limit:  req.Limit(),
	}
	if eventID := strings.TrimSpace(req.EventID); eventID != "" {
		id, err := snowflake.ParseString(eventID)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidEvent
		}
		filter.EventID = &id
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

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *domain.RefundRequest) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	resp := domain.ListResponse{Requests: make([]domain.RefundRequest, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.Requests = append(resp.Requests, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

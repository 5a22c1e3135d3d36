package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/bankreview/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
)

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.BankPaymentSubmission, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}
	submission, err := s.repo.GetSubmission(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, domain.ErrNotFound
	}
	return submission, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{
		Status: strings.ToLower(strings.TrimSpace(req.Status)),
		UserID: strings.TrimSpace(req.UserID),
		Limit:  req.Limit(),
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

	items, err := s.repo.ListSubmissions(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *domain.BankPaymentSubmission) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	resp := domain.ListResponse{Submissions: make([]domain.BankPaymentSubmission, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.Submissions = append(resp.Submissions, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// State returns the user's payment state, or an empty state for unknown users.
func (s *Service) State(ctx context.Context, userID string) (*domain.UserPaymentState, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	state, err := s.repo.GetState(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &domain.UserPaymentState{UserID: userID}, nil
	}
	return state, nil
}

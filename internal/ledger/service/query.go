package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

func (s *Service) GetEvent(ctx context.Context, id snowflake.ID) (*ledgerdomain.LedgerEvent, error) {
	return s.GetEventTx(ctx, s.db, id)
}

func (s *Service) GetEventTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*ledgerdomain.LedgerEvent, error) {
	if id == 0 {
		return nil, ledgerdomain.ErrNotFound
	}
	event, err := s.repo.GetEvent(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ledgerdomain.ErrNotFound
	}
	return event, nil
}

func (s *Service) ListEvents(ctx context.Context, req ledgerdomain.ListEventsRequest) (ledgerdomain.ListEventsResponse, error) {
	filter := ledgerdomain.EventFilter{
		CreatorID: strings.TrimSpace(req.CreatorID),
		FanID:     strings.TrimSpace(req.FanID),
		Type:      strings.ToLower(strings.TrimSpace(req.Type)),
		Status:    strings.ToLower(strings.TrimSpace(req.Status)),
		Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		Limit:     req.Limit(),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil || cursor == nil {
			return ledgerdomain.ListEventsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil || id == 0 {
			return ledgerdomain.ListEventsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		filter.BeforeID = &id
	}

	items, err := s.repo.ListEvents(ctx, s.db, filter)
	if err != nil {
		return ledgerdomain.ListEventsResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *ledgerdomain.LedgerEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	resp := ledgerdomain.ListEventsResponse{Events: make([]ledgerdomain.LedgerEvent, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.Events = append(resp.Events, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// GetBalance returns the account's balance, or a zero balance when nothing has
// been posted to it yet.
func (s *Service) GetBalance(ctx context.Context, accountID, currency string) (*ledgerdomain.Balance, error) {
	accountID = strings.TrimSpace(accountID)
	accountType, ok := ledgerdomain.AccountTypeOf(accountID)
	if !ok {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}

	balance, err := s.repo.GetBalance(ctx, s.db, ledgerdomain.BalanceKey{AccountID: accountID, Currency: currency})
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &ledgerdomain.Balance{AccountID: accountID, Currency: currency, AccountType: accountType}, nil
	}
	return balance, nil
}

func (s *Service) ListBalances(ctx context.Context, req ledgerdomain.ListBalancesRequest) (ledgerdomain.ListBalancesResponse, error) {
	filter := ledgerdomain.BalanceFilter{
		AccountType: strings.ToLower(strings.TrimSpace(req.AccountType)),
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		Limit:       req.Limit(),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil || cursor == nil {
			return ledgerdomain.ListBalancesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		sep := strings.LastIndex(cursor.ID, "|")
		if sep <= 0 || sep == len(cursor.ID)-1 {
			return ledgerdomain.ListBalancesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		filter.After = &ledgerdomain.BalanceKey{AccountID: cursor.ID[:sep], Currency: cursor.ID[sep+1:]}
	}

	items, err := s.repo.ListBalances(ctx, s.db, filter)
	if err != nil {
		return ledgerdomain.ListBalancesResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *ledgerdomain.Balance) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.AccountID + "|" + item.Currency})
		if err != nil {
			return ""
		}
		return token
	})

	resp := ledgerdomain.ListBalancesResponse{Balances: make([]ledgerdomain.Balance, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.Balances = append(resp.Balances, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"github.com/playgroundx/settlement/pkg/db/pagination"
)

type listBalancesQuery struct {
	pagination.Pagination
	AccountType string `form:"account_type"`
	Currency    string `form:"currency"`
}

func (s *Server) ListBalances(c *gin.Context) {
	var query listBalancesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListBalances(c.Request.Context(), ledgerdomain.ListBalancesRequest{
		Pagination:  query.Pagination,
		AccountType: query.AccountType,
		Currency:    query.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetBalance(c *gin.Context) {
	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), c.Param("account_id"), s.currencyQuery(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// GetOwnBalance returns the caller's creator earnings and fan wallet.
func (s *Server) GetOwnBalance(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()
	currency := s.currencyQuery(c)

	creator, err := s.ledgerSvc.GetBalance(ctx, ledgerdomain.CreatorAccount(userID), currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	wallet, err := s.ledgerSvc.GetBalance(ctx, ledgerdomain.WalletAccount(userID), currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"creator": creator, "wallet": wallet})
}

func (s *Server) currencyQuery(c *gin.Context) string {
	if currency := strings.TrimSpace(c.Query("currency")); currency != "" {
		return currency
	}
	return s.cfg.Payout.DefaultCurrency
}

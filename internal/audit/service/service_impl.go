package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/audit/masking"
	"github.com/playgroundx/settlement/internal/auditcontext"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const verifyPageSize = 500

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.AuditLogTx(ctx, tx, actorType, actorID, action, targetType, targetID, metadata)
	})
}

func (s *Service) AuditLogTx(ctx context.Context, tx *gorm.DB, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	actorType = strings.TrimSpace(actorType)
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	resolvedActorType, resolvedActorID := s.resolveActor(ctx, actorType, actorID)
	ipAddress := auditcontext.IPAddressFromContext(ctx)
	userAgent := auditcontext.UserAgentFromContext(ctx)

	payload := masking.MaskMetadata(metadata)
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  resolvedActorType,
		ActorID:    resolvedActorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(targetID),
		Metadata:   datatypes.JSONMap(payload),
		// postgres keeps microseconds; the hash must survive a round trip.
		CreatedAt: s.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if ipAddress != "" {
		entry.IPAddress = &ipAddress
	}
	if userAgent != "" {
		entry.UserAgent = &userAgent
	}

	// LastHash locks the chain head until tx ends.
	prev, err := s.repo.LastHash(ctx, tx)
	if err == nil {
		entry.PrevHash = prev
		entry.Hash = auditdomain.ComputeHash(prev, entry)
		err = s.repo.Insert(ctx, tx, &entry)
	}
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

// List pages newest first. The page token carries (created_at, id) of the
// last row served, so entries appended while paging never shift a page.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	var resp auditdomain.ListAuditLogResponse
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return resp, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := decodeAuditCursor(req.PageToken)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		ActorID:    req.ActorID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return resp, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, encodeAuditCursor)
	resp.AuditLogs = make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			resp.AuditLogs = append(resp.AuditLogs, *item)
		}
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func decodeAuditCursor(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil || decoded == nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func encodeAuditCursor(entry *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        entry.ID.String(),
		CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

// Verify walks the chain from the genesis entry and stops at the first entry whose
// stored hashes disagree with a recomputation.
func (s *Service) Verify(ctx context.Context) (auditdomain.VerifyResult, error) {
	result := auditdomain.VerifyResult{Valid: true}
	prev := auditdomain.GenesisHash
	var afterID snowflake.ID

	for {
		page, err := s.repo.ListAscending(ctx, s.db, afterID, verifyPageSize)
		if err != nil {
			return auditdomain.VerifyResult{}, err
		}
		for _, entry := range page {
			result.Checked++
			if entry.PrevHash != prev {
				return s.broken(result, entry, "prev_hash_mismatch"), nil
			}
			if auditdomain.ComputeHash(prev, *entry) != entry.Hash {
				return s.broken(result, entry, "hash_mismatch"), nil
			}
			prev = entry.Hash
			afterID = entry.ID
		}
		if len(page) < verifyPageSize {
			return result, nil
		}
	}
}

func (s *Service) broken(result auditdomain.VerifyResult, entry *auditdomain.AuditLog, reason string) auditdomain.VerifyResult {
	id := entry.ID
	result.Valid = false
	result.BrokenAt = &id
	result.Reason = reason
	s.log.Error("audit chain broken",
		zap.String("audit_id", id.String()),
		zap.String("reason", reason),
	)
	return result
}

func (s *Service) resolveActor(ctx context.Context, actorType string, actorID *string) (string, *string) {
	if actorType == "" {
		if actor, ok := auditcontext.ActorFromContext(ctx); ok && actor.Type != "" {
			actorType = actor.Type
			if (actorID == nil || strings.TrimSpace(*actorID) == "") && actor.ID != "" {
				id := actor.ID
				actorID = &id
			}
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}

	return actorType, normalizePointer(actorID)
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

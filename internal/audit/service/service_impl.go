package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	"github.com/smallbiznis/admitpay/internal/audit/masking"
	auditcontext "github.com/smallbiznis/admitpay/internal/auditcontext"
	"github.com/smallbiznis/admitpay/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const listLimit = 500

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, event auditdomain.Event) error {
	return s.RecordTx(ctx, s.db, event)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, event auditdomain.Event) error {
	entry, err := s.build(ctx, event)
	if err != nil {
		return err
	}
	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", entry.Action),
			zap.String("outcome", entry.Outcome),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) ListByTarget(ctx context.Context, targetType, targetID string) ([]auditdomain.AuditLog, error) {
	if strings.TrimSpace(targetType) == "" || strings.TrimSpace(targetID) == "" {
		return nil, auditdomain.ErrInvalidTarget
	}
	items, err := s.repo.ListByTarget(ctx, s.db, targetType, targetID, listLimit)
	if err != nil {
		return nil, err
	}
	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}
	return logs, nil
}

func (s *Service) build(ctx context.Context, event auditdomain.Event) (*auditdomain.AuditLog, error) {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return nil, auditdomain.ErrInvalidAction
	}

	outcome := event.Outcome
	switch outcome {
	case "":
		outcome = auditdomain.OutcomeSuccess
	case auditdomain.OutcomeSuccess, auditdomain.OutcomeFailure, auditdomain.OutcomeNoop:
	default:
		return nil, auditdomain.ErrInvalidOutcome
	}

	targetType := strings.TrimSpace(event.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := resolveActor(ctx, string(event.ActorType), event.ActorID)

	payload := masking.MaskFields(event.Metadata)
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		Outcome:    string(outcome),
		TargetType: targetType,
		TargetID:   normalize(event.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		IPAddress:  normalize(auditcontext.IPAddressFromContext(ctx)),
		UserAgent:  normalize(auditcontext.UserAgentFromContext(ctx)),
		CreatedAt:  s.clock.Now(),
	}
	return entry, nil
}

func resolveActor(ctx context.Context, actorType, actorID string) (string, *string) {
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		if ctxType, ctxID := auditcontext.ActorFromContext(ctx); ctxType != "" {
			actorType = ctxType
			if strings.TrimSpace(actorID) == "" {
				actorID = ctxID
			}
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	return actorType, normalize(actorID)
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

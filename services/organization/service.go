package organization

import (
	"context"
	"errors"
	"time"

	"compliance-controlplane/pkg/errutil"
	"compliance-controlplane/pkg/middleware"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node}
}

// ListActiveIDs returns the ids of every active organization, the scope for
// an "all" batch run. Ordered for deterministic scan progress.
func (s *Service) ListActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Organization{}).
		Where("status = ?", Active).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) Get(ctx context.Context, orgID string) (*Organization, error) {
	var org Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("organization not found")
		}
		return nil, err
	}
	return &org, nil
}

func (s *Service) Create(ctx context.Context, name, countryCode, timezone string) (*Organization, error) {
	org := &Organization{
		ID:          s.node.Generate().String(),
		Name:        name,
		Slug:        slug.Make(name),
		CountryCode: countryCode,
		Timezone:    timezone,
		Status:      Active,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		zap.L().Error("failed to create organization", zap.Error(err))
		return nil, err
	}
	return org, nil
}

// ListRecipients returns the members that should receive compliance
// notifications for an organization.
func (s *Service) ListRecipients(ctx context.Context, orgID string) ([]Member, error) {
	var members []Member
	if err := s.db.WithContext(ctx).
		Where("organization_id = ? AND receive_alerts = ?", orgID, true).
		Order("id").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// Resolve implements middleware.IdentityResolver against the members table.
func (s *Service) Resolve(ctx context.Context, token string) (*middleware.Identity, error) {
	if token == "" {
		return nil, errutil.Unauthorized("missing bearer token")
	}

	var member Member
	if err := s.db.WithContext(ctx).First(&member, "access_token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.Unauthorized("unknown token")
		}
		return nil, err
	}

	return &middleware.Identity{
		UserID:         member.UserID,
		OrganizationID: member.OrganizationID,
		Role:           member.Role,
	}, nil
}

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Organization{}, &Member{}}
}

var Module = fx.Module("organization.module",
	fx.Provide(
		NewService,
		func(s *Service) middleware.IdentityResolver { return s },
	),
)

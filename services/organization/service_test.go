package organization

import (
	"context"
	"testing"

	"compliance-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Organization{}, &Member{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateSlugifiesName(t *testing.T) {
	s := newTestService(t)

	org, err := s.Create(context.Background(), "Alpha Construcții SRL", "RO", "Europe/Bucharest")
	require.NoError(t, err)
	require.Equal(t, "alpha-constructii-srl", org.Slug)
	require.Equal(t, Active, org.Status)
}

func TestListActiveIDsExcludesSuspended(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "Alpha", "RO", "Europe/Bucharest")
	require.NoError(t, err)
	b, err := s.Create(ctx, "Beta", "RO", "Europe/Bucharest")
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&Organization{}).
		Where("id = ?", b.ID).
		Update("status", Suspended).Error)

	ids, err := s.ListActiveIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID}, ids)
}

func TestListRecipientsFiltersOptOut(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.db.Create([]Member{
		{ID: "m-1", OrganizationID: "org-1", Name: "In", ReceiveAlerts: true},
		{ID: "m-2", OrganizationID: "org-1", Name: "Out", ReceiveAlerts: false},
		{ID: "m-3", OrganizationID: "org-2", Name: "Other", ReceiveAlerts: true},
	}).Error)

	members, err := s.ListRecipients(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "m-1", members[0].ID)
}

func TestResolveToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.db.Create(&Member{
		ID: "m-1", OrganizationID: "org-1", UserID: "u-1",
		Role: "consultant", AccessToken: "tok-123",
	}).Error)

	id, err := s.Resolve(ctx, "tok-123")
	require.NoError(t, err)
	require.Equal(t, "u-1", id.UserID)
	require.Equal(t, "org-1", id.OrganizationID)
	require.Equal(t, "consultant", id.Role)

	_, err = s.Resolve(ctx, "unknown")
	require.Error(t, err)

	_, err = s.Resolve(ctx, "")
	require.Error(t, err)
}

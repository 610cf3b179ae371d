package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compliance-controlplane/services/alert"
	"compliance-controlplane/services/organization"

	"github.com/bwmarrin/snowflake"
	"github.com/ttacon/libphonenumber"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultRegion resolves national phone numbers to E.164 when no country
// code is present.
const DefaultRegion = "RO"

// Dispatcher sends active alerts through the organization's configured
// channels, one AlertLog per attempt. A given (alert, channel, recipient,
// severity) is sent at most once.
type Dispatcher struct {
	db       *gorm.DB
	node     *snowflake.Node
	orgs     *organization.Service
	store    *alert.Store
	provider Provider
}

type DispatcherParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Orgs     *organization.Service
	Store    *alert.Store
	Provider Provider
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:       p.DB,
		node:     p.Node,
		orgs:     p.Orgs,
		store:    p.Store,
		provider: p.Provider,
	}
}

type DispatchResult struct {
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// DispatchOrg sends every alert of the organization that has no delivery
// attempt at its current severity. Provider failures are recorded per
// recipient and never abort the rest of the batch.
func (d *Dispatcher) DispatchOrg(ctx context.Context, orgID string) (DispatchResult, error) {
	res := DispatchResult{Errors: make([]string, 0)}

	org, err := d.orgs.Get(ctx, orgID)
	if err != nil {
		return res, err
	}

	cfg, err := d.store.GetConfig(ctx, orgID)
	if err != nil {
		return res, err
	}
	channels := cfg.EnabledChannels()
	if len(channels) == 0 {
		zap.L().Info("dispatch skipped, no channels enabled", zap.String("organization_id", orgID))
		return res, nil
	}

	recipients, err := d.orgs.ListRecipients(ctx, orgID)
	if err != nil {
		return res, err
	}
	if len(recipients) == 0 {
		zap.L().Info("dispatch skipped, no recipients", zap.String("organization_id", orgID))
		return res, nil
	}

	var alerts []alert.Alert
	if err := d.db.WithContext(ctx).
		Where("organization_id = ? AND status IN ?", orgID, alert.ActiveStatuses).
		Order("id").
		Find(&alerts).Error; err != nil {
		return res, err
	}

	for _, a := range alerts {
		for _, channel := range channels {
			for _, m := range recipients {
				addr := addressFor(channel, m)
				if addr == "" {
					continue
				}

				sent, err := d.sendOnce(ctx, org, a, channel, addr)
				if err != nil {
					var pe *ProviderError
					if !errors.As(err, &pe) {
						// store failure, not a provider failure: abort
						return res, err
					}
					res.Failed++
					res.Errors = append(res.Errors, fmt.Sprintf("alert %s via %s to %s: %v", a.ID, channel, addr, err))
					continue
				}
				if sent {
					res.Sent++
				} else {
					res.Skipped++
				}
			}
		}
	}

	return res, nil
}

// sendOnce sends unless an attempt at the alert's current severity already
// exists for this channel and recipient. Returns false when skipped.
func (d *Dispatcher) sendOnce(ctx context.Context, org *organization.Organization, a alert.Alert, channel alert.Channel, addr string) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).
		Model(&alert.AlertLog{}).
		Where("alert_id = ? AND channel = ? AND recipient_address = ? AND severity = ?", a.ID, channel, addr, a.Severity).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	body := messageBody(org.Name, a)

	log := alert.AlertLog{
		ID:               d.node.Generate().String(),
		AlertID:          a.ID,
		OrganizationID:   a.OrganizationID,
		Channel:          channel,
		Severity:         a.Severity,
		RecipientAddress: addr,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	sid, err := d.provider.Send(ctx, channel, addr, body)
	if err != nil {
		log.DeliveryStatus = alert.DeliveryFailed
		log.FailureReason = err.Error()
		if dbErr := d.db.WithContext(ctx).Create(&log).Error; dbErr != nil {
			return false, dbErr
		}
		if !isProviderError(err) {
			err = &ProviderError{Reason: "send failed", Err: err}
		}
		return false, err
	}

	log.DeliveryStatus = alert.DeliveryQueued
	log.ProviderMessageID = sid
	if err := d.db.WithContext(ctx).Create(&log).Error; err != nil {
		return false, err
	}

	return true, nil
}

func isProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

func addressFor(channel alert.Channel, m organization.Member) string {
	switch channel {
	case alert.ChannelEmail:
		return m.Email
	default:
		return NormalizePhone(m.Phone)
	}
}

// NormalizePhone formats a phone number as E.164 so that webhook replies
// match the recipient address they were sent to. Unparseable input is
// returned as-is.
func NormalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	num, err := libphonenumber.Parse(raw, DefaultRegion)
	if err != nil {
		return raw
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

func messageBody(orgName string, a alert.Alert) string {
	switch a.Severity {
	case alert.SeverityMissing:
		return fmt.Sprintf("[%s] Compliance record %s/%s has no expiry date on file. Please update it.",
			orgName, a.AlertType, a.SourceEntityID)
	case alert.SeverityExpired:
		return fmt.Sprintf("[%s] %s %s has EXPIRED (%s). Immediate action required. Reply OK to acknowledge.",
			orgName, a.AlertType, a.SourceEntityID, formatDate(a.ExpiryDate))
	case alert.SeverityUrgent:
		return fmt.Sprintf("[%s] %s %s expires on %s. Action required this week. Reply OK to acknowledge.",
			orgName, a.AlertType, a.SourceEntityID, formatDate(a.ExpiryDate))
	default:
		return fmt.Sprintf("[%s] %s %s expires on %s.",
			orgName, a.AlertType, a.SourceEntityID, formatDate(a.ExpiryDate))
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.Format("2006-01-02")
}

package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"compliance-controlplane/services/alert"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconciler applies inbound provider callbacks onto logged delivery
// attempts. It is the only writer of delivery_status after dispatch.
type Reconciler struct {
	db *gorm.DB
}

type ReconcilerParams struct {
	fx.In
	DB *gorm.DB
}

func NewReconciler(p ReconcilerParams) *Reconciler {
	return &Reconciler{db: p.DB}
}

// deliveryRank orders the normal delivery progression. Callbacks can arrive
// out of order; a transition is applied only when it moves forward.
var deliveryRank = map[alert.DeliveryStatus]int{
	alert.DeliveryQueued:    0,
	alert.DeliverySent:      1,
	alert.DeliveryDelivered: 2,
	alert.DeliveryRead:      3,
}

// terminalFailures may replace queued or sent, never delivered or read.
var terminalFailures = map[alert.DeliveryStatus]bool{
	alert.DeliveryFailed:      true,
	alert.DeliveryUndelivered: true,
}

// ApplyDeliveryStatus advances the delivery state machine of the AlertLog
// identified by the provider message id. Unknown ids and stale or invalid
// transitions are logged and ignored: callbacks are at-least-once and
// unordered.
func (r *Reconciler) ApplyDeliveryStatus(ctx context.Context, providerMessageID, rawStatus string) error {
	status := alert.DeliveryStatus(strings.ToLower(strings.TrimSpace(rawStatus)))
	_, isProgress := deliveryRank[status]
	if !isProgress && !terminalFailures[status] {
		zap.L().Warn("ignoring unknown delivery status", zap.String("status", rawStatus))
		return nil
	}

	var log alert.AlertLog
	err := r.db.WithContext(ctx).First(&log, "provider_message_id = ?", providerMessageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		zap.L().Info("callback for unknown provider message id ignored", zap.String("provider_message_id", providerMessageID))
		return nil
	}
	if err != nil {
		return err
	}

	if !transitionAllowed(log.DeliveryStatus, status) {
		zap.L().Debug("ignoring stale delivery callback",
			zap.String("provider_message_id", providerMessageID),
			zap.String("current", string(log.DeliveryStatus)),
			zap.String("incoming", string(status)),
		)
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&alert.AlertLog{}).
		Where("id = ?", log.ID).
		Updates(map[string]any{
			"delivery_status": status,
			"updated_at":      time.Now(),
		}).Error
}

func transitionAllowed(current, incoming alert.DeliveryStatus) bool {
	if terminalFailures[current] {
		return false
	}
	if terminalFailures[incoming] {
		// failure is reachable from queued or sent only
		return deliveryRank[current] <= deliveryRank[alert.DeliverySent]
	}
	return deliveryRank[incoming] > deliveryRank[current]
}

// affirmativeTokens are the reply bodies treated as acknowledgments. The
// reply channel carries no message reference, so matching is by phone
// number: a best-effort heuristic, applied to every open attempt for that
// number.
var affirmativeTokens = map[string]bool{
	"DA":      true,
	"OK":      true,
	"YES":     true,
	"CONFIRM": true,
}

// ApplyInboundReply acknowledges every unacknowledged AlertLog addressed to
// the sender's phone number, then closes the parent alerts that are still
// pending. A reply with no matching rows is a no-op, not an error.
func (r *Reconciler) ApplyInboundReply(ctx context.Context, from, body string) (int, error) {
	token := strings.ToUpper(strings.TrimSpace(body))
	if !affirmativeTokens[token] {
		zap.L().Debug("inbound reply is not an acknowledgment", zap.String("body", body))
		return 0, nil
	}

	addr := NormalizePhone(strings.TrimPrefix(strings.TrimSpace(from), "whatsapp:"))
	if addr == "" {
		return 0, nil
	}

	var open []alert.AlertLog
	if err := r.db.WithContext(ctx).
		Where("recipient_address = ? AND acknowledged = ?", addr, false).
		Find(&open).Error; err != nil {
		return 0, err
	}
	if len(open) == 0 {
		return 0, nil
	}

	now := time.Now()
	ids := make([]string, 0, len(open))
	alertIDs := make([]string, 0, len(open))
	for _, l := range open {
		ids = append(ids, l.ID)
		alertIDs = append(alertIDs, l.AlertID)
	}

	if err := r.db.WithContext(ctx).
		Model(&alert.AlertLog{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_at": now,
			"acknowledged_by": addr,
			"updated_at":      now,
		}).Error; err != nil {
		return 0, err
	}

	// Close the parent alerts; resolved or dismissed ones stay as they are.
	if err := r.db.WithContext(ctx).
		Model(&alert.Alert{}).
		Where("id IN ? AND status = ?", alertIDs, alert.StatusPending).
		Updates(map[string]any{
			"status":     alert.StatusAcknowledged,
			"updated_at": now,
		}).Error; err != nil {
		return 0, err
	}

	zap.L().Info("inbound reply acknowledged delivery attempts",
		zap.String("from", addr),
		zap.Int("count", len(ids)),
	)

	return len(ids), nil
}

// Package reconciler consumes payment notifications relayed over Kafka by the API.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-instrument-store/internal/kafka"
	"github.com/ariefcatur/go-instrument-store/internal/obs"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
	"github.com/ariefcatur/go-instrument-store/internal/redisx"
)

type Handler struct {
	Engine payments.Ingester
	Redis  redis.Cmdable // nil disables dedup
	Name   string
	Log    *zap.Logger
}

// HandleNotification is the consumer callback for orders.TopicPaymentNotification.
func (h *Handler) HandleNotification(ctx context.Context, m kafkago.Message) error {
	log := obs.OrNop(h.Log)

	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// poison message; committing it is the only way forward
		log.Error("drop undecodable notification", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventPaymentNotification {
		return nil
	}

	dkey := ""
	if h.Redis != nil {
		dkey = fmt.Sprintf(redisx.KeyDedup, h.Name, env.EventID)
		fresh, err := redisx.Claim(ctx, h.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			log.Warn("dedup claim failed, processing anyway", zap.String("event_id", env.EventID), zap.Error(err))
			dkey = ""
		} else if !fresh {
			log.Debug("duplicate notification", zap.String("event_id", env.EventID))
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentNotificationPayload](env.Payload)
	if err != nil {
		log.Error("drop notification with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if err := h.Engine.IngestNotification(ctx, p.TransactionID); err != nil {
		if dkey != "" {
			if rerr := redisx.Release(context.WithoutCancel(ctx), h.Redis, dkey); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return err
	}
	log.Info("notification reconciled",
		obs.TraceField(ctx), zap.String("event_id", env.EventID), zap.String("transaction_id", p.TransactionID))
	return nil
}

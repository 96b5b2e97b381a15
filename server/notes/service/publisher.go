package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"knowledge_server/server/common/infra/mq"
	commonlog "knowledge_server/server/common/log"
	"knowledge_server/server/notes/domain"
)

// OwnerEventsChannel is the redis pub/sub channel carrying one owner's
// note ChangeEvents to every connected client.
func OwnerEventsChannel(ownerID string) string {
	return "notes:events:" + ownerID
}

// ChangePublisher fans a note mutation out to subscribers. Delivery is
// at-least-once; consumers merge idempotently.
type ChangePublisher interface {
	PublishChange(ctx context.Context, event domain.ChangeEvent) error
}

// EventPublisher pushes each ChangeEvent to the owner's redis channel for
// connected clients and mirrors it onto the AMQP topic exchange for
// offline consumers. The redis leg is the delivery the sync protocol
// relies on; the AMQP mirror is best effort.
type EventPublisher struct {
	redis *redis.Client
	amqp  *amqp.Channel
}

func NewEventPublisher(redisClient *redis.Client, amqpChannel *amqp.Channel) *EventPublisher {
	return &EventPublisher{redis: redisClient, amqp: amqpChannel}
}

func (p *EventPublisher) PublishChange(ctx context.Context, event domain.ChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.redis.Publish(ctx, OwnerEventsChannel(event.OwnerID), body).Err(); err != nil {
		commonlog.Errorf("event=note_change action=publish status=failed owner_id=%s op=%s error=%v", event.OwnerID, event.Operation, err)
		return err
	}
	if p.amqp != nil {
		routingKey := event.OwnerID + ".note." + string(event.Operation)
		if err := p.amqp.PublishWithContext(ctx, mq.NoteEventsExchange, routingKey, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		}); err != nil {
			commonlog.Warnf("event=note_change action=mirror status=failed owner_id=%s op=%s error=%v", event.OwnerID, event.Operation, err)
		}
	}
	commonlog.Debugf("event=note_change action=publish status=ok owner_id=%s op=%s note_id=%s", event.OwnerID, event.Operation, event.Note.ID)
	return nil
}

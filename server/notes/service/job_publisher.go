package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"knowledge_server/server/common/infra/mq"
	"knowledge_server/server/notes/domain"
)

// AMQPJobPublisher queues ingest jobs for the pipeline worker. Jobs are
// persistent so a worker restart does not drop pending attachments.
type AMQPJobPublisher struct {
	channel *amqp.Channel
}

func NewAMQPJobPublisher(conn *amqp.Connection) (*AMQPJobPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := mq.DeclareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &AMQPJobPublisher{channel: ch}, nil
}

func (p *AMQPJobPublisher) PublishJob(ctx context.Context, job domain.IngestJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, "", mq.IngestJobsQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	})
}

func (p *AMQPJobPublisher) Close() {
	_ = p.channel.Close()
}

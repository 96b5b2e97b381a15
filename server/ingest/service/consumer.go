package service

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"knowledge_server/server/common/infra/mq"
	commonlog "knowledge_server/server/common/log"
	"knowledge_server/server/notes/domain"
)

// Consumer pulls ingest jobs off the durable queue and feeds them through
// the pipeline. Delivery is at-least-once: the pipeline tolerates
// duplicates via the attachment state machine.
type Consumer struct {
	channel  *amqp.Channel
	pipeline *Pipeline
}

func NewConsumer(conn *amqp.Connection, pipeline *Pipeline) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := mq.DeclareTopology(ch); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	return &Consumer{channel: ch, pipeline: pipeline}, nil
}

// Run blocks until the context is canceled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(mq.IngestJobsQueue, "ingestd", false, false, false, false, nil)
	if err != nil {
		return err
	}
	commonlog.Infof("event=ingest action=consume status=started queue=%s", mq.IngestJobsQueue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var job domain.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		commonlog.Errorf("event=ingest action=decode_job status=failed error=%v", err)
		d.Nack(false, false)
		return
	}

	if err := c.pipeline.Process(ctx, job); err != nil {
		// Infrastructure fault: give the job one redelivery, then drop it.
		// The attachment stays pending and the retry endpoint can requeue.
		commonlog.Errorf("event=ingest action=process status=failed attachment_id=%s redelivered=%t error=%v", job.AttachmentID, d.Redelivered, err)
		d.Nack(false, !d.Redelivered)
		return
	}
	d.Ack(false)
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}

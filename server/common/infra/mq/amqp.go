package mq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// NoteEventsExchange mirrors every note ChangeEvent for offline
	// consumers; routing key is <owner_id>.note.<operation>.
	NoteEventsExchange = "note.events"
	// IngestJobsQueue carries one job per uploaded attachment.
	IngestJobsQueue = "ingest.jobs"
)

func NewConnection(url string) (*amqp.Connection, error) {
	return amqp.Dial(url)
}

// DeclareTopology sets up the exchange and queue both the API service and
// the pipeline worker expect, so either side can start first.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(NoteEventsExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(IngestJobsQueue, true, false, false, false, nil)
	return err
}

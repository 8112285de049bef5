package report

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/umarmf343/rankbeam/internal/monitor"
)

// Topic names an exchange and queue pair.
type Topic string

const (
	TopicProgress Topic = "rank_progress"
	TopicComplete Topic = "rank_complete"
)

// DefineTopic declares a durable topic exchange and queue named prefix_topic.
func DefineTopic(ch *amqp.Channel, prefix string, topic Topic) error {
	name := topicName(prefix, topic)
	if err := ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-delete
		false,   // internal
		false,   // noWait
		nil,     // arguments
	); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(
		name,  // name of the queue
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // noWait
		nil,   // arguments
	); err != nil {
		return err
	}
	return ch.QueueBind(name, name, name, false, nil)
}

func topicName(prefix string, topic Topic) string {
	if prefix == "" {
		return string(topic)
	}
	return fmt.Sprintf("%s_%s", prefix, topic)
}

func topicFor(ev monitor.Event) Topic {
	if ev.Type == monitor.EventComplete {
		return TopicComplete
	}
	return TopicProgress
}

// AMQPSink publishes events to RabbitMQ.
type AMQPSink struct {
	conn   *amqp.Connection
	prefix string
}

// DialAMQP connects to url and declares the event topics.
func DialAMQP(url, prefix string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	for _, topic := range []Topic{TopicProgress, TopicComplete} {
		if err := DefineTopic(ch, prefix, topic); err != nil {
			conn.Close()
			return nil, fmt.Errorf("define topic %s: %w", topic, err)
		}
	}
	return &AMQPSink{conn: conn, prefix: prefix}, nil
}

// Publish implements monitor.Sink.
func (s *AMQPSink) Publish(ctx context.Context, ev monitor.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	name := topicName(s.prefix, topicFor(ev))
	return ch.PublishWithContext(ctx,
		name,
		name,
		true,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   fmt.Sprintf("%s/%d", ev.RunID, ev.MonitoringID),
			Body:        body,
		},
	)
}

func (s *AMQPSink) Close() error {
	return s.conn.Close()
}

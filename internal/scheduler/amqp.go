package scheduler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/streadway/amqp"
)

// AMQPScheduler implements delayed ticks with a wait queue: messages are
// published with a per-message TTL and no consumer, and the queue's
// dead-letter exchange routes expired messages to the work queue the tick
// worker consumes.
type AMQPScheduler struct {
	Channel   *amqp.Channel
	TickQueue string
	WaitQueue string
}

func NewAMQPScheduler(ch *amqp.Channel, tickQueue, waitQueue string) (*AMQPScheduler, error) {
	_, err := ch.QueueDeclare(
		tickQueue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare tick queue: %w", err)
	}

	_, err = ch.QueueDeclare(
		waitQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": tickQueue,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("declare wait queue: %w", err)
	}

	return &AMQPScheduler{Channel: ch, TickQueue: tickQueue, WaitQueue: waitQueue}, nil
}

func (s *AMQPScheduler) ScheduleAfter(campaignID, sendRunID int, delay time.Duration) error {
	body, err := json.Marshal(TickMessage{CampaignID: campaignID, SendRunID: sendRunID})
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	}

	// Immediate ticks skip the wait queue entirely.
	if delay <= 0 {
		return s.Channel.Publish("", s.TickQueue, false, false, pub)
	}

	pub.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	return s.Channel.Publish("", s.WaitQueue, false, false, pub)
}

func (s *AMQPScheduler) ScheduleAt(campaignID, sendRunID int, at time.Time) error {
	return s.ScheduleAfter(campaignID, sendRunID, delayUntil(at, time.Now()))
}

var _ TickScheduler = (*AMQPScheduler)(nil)

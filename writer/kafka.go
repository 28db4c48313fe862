package writer

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"legendflow/logger"
	"legendflow/models"
)

// BarPublisher mirrors every closed bar to a Kafka topic as JSON, keyed by
// symbol and timeframe so consumers can partition by instrument. Publish
// failures are logged and non-fatal; the file sinks remain the source of
// truth.
type BarPublisher struct {
	writer *kafka.Writer
	runID  string
	log    *logger.Log
}

func NewBarPublisher(brokers []string, topic, runID string) (*BarPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	return &BarPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		runID: runID,
		log:   logger.GetLogger(),
	}, nil
}

// Publish sends the batch of closed bars. Bars are marshalled individually
// so a consumer sees the same rows the CSV sinks received.
func (p *BarPublisher) Publish(ctx context.Context, bars []models.Bar) {
	if len(bars) == 0 {
		return
	}

	msgs := make([]kafka.Message, 0, len(bars))
	for _, bar := range bars {
		value, err := json.Marshal(bar)
		if err != nil {
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(bar.Symbol + "/" + bar.Timeframe.Segment()),
			Value: value,
			Headers: []kafka.Header{
				{Key: "run_id", Value: []byte(p.runID)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.WithComponent("kafka_publisher").WithError(err).Warn("failed to publish bars")
		return
	}
	logger.RecordStreamMessage("kafka_bars", len(msgs))
}

func (p *BarPublisher) Close() error {
	return p.writer.Close()
}

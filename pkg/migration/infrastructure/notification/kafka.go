package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes completions as JSON keyed by job id. Publish
// failures are logged and never affect the job outcome.
type KafkaNotifier struct {
	writer  MessageWriter
	timeout time.Duration
}

var _ ports.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	logger.Infof("Notification: publishing job completions to kafka topic '%s'.", topic)
	return NewKafkaNotifierWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	})
}

// NewKafkaNotifierWithWriter wraps an existing writer.
func NewKafkaNotifierWithWriter(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, timeout: 10 * time.Second}
}

type completionMessage struct {
	JobID      string          `json:"job_id"`
	Category   string          `json:"category"`
	Status     model.JobStatus `json:"status"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Skipped    bool            `json:"skipped,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
	SentAt     time.Time       `json:"sent_at"`
}

func (n *KafkaNotifier) NotifyJobCompletion(ctx context.Context, c model.JobCompletion) {
	payload, err := json.Marshal(completionMessage{
		JobID:      c.JobID,
		Category:   c.Category,
		Status:     c.Status,
		Succeeded:  c.Succeeded,
		Failed:     c.Failed,
		Skipped:    c.Skipped,
		DurationMS: c.Duration.Milliseconds(),
		Error:      c.Error,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		logger.Errorf("Notification: failed to encode completion of job '%s': %v", c.JobID, err)
		return
	}

	// The job context may already be cancelled when a job is cancelled.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.writer.WriteMessages(sendCtx, kafka.Message{Key: []byte(c.JobID), Value: payload}); err != nil {
		logger.Errorf("Notification: failed to publish completion of job '%s': %v", c.JobID, err)
		return
	}
	logger.Debugf("Notification: published completion of job '%s' (%s).", c.JobID, c.Status)
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Package notify publishes change-queue events to NATS JetStream so
// downstream consumers other than the applier can react to new rows
// without polling the queue themselves.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/serenorg/seren-replicator/internal/sqlitequeue"
)

const (
	streamName           = "SEREN_CHANGES"
	streamSubjectPattern  = "SEREN.CHANGES.*"
	streamCreateTimeout   = 10 * time.Second
	duplicateWindow       = 20 * time.Minute
)

// Publisher publishes queued changes to NATS JetStream, deduplicated by
// change_id so a redelivered or re-enqueued notification never fans out
// twice to subscribers.
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger *zerolog.Logger
	prefix string
}

// NewPublisher connects to NATS and ensures the change stream exists.
func NewPublisher(natsURL string, persistDuration time.Duration, subjectPrefix string, logger *zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("seren-replicator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("notify: create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{streamSubjectPattern},
		MaxAge:     persistDuration,
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("notify: create stream: %w", err)
	}

	logger.Info().
		Str("stream", streamName).
		Str("subjects", streamSubjectPattern).
		Dur("max_age", persistDuration).
		Dur("duplicate_window", duplicateWindow).
		Msg("change notification publisher initialized")

	return &Publisher{js: js, nc: nc, logger: logger, prefix: subjectPrefix}, nil
}

// Publish notifies subscribers of one persisted change.
// The subject is SEREN.CHANGES.{table_name} and the dedup key is
// table-op-primarykey-changeid, since a redelivered change must never be
// announced twice even if the applier re-fetches it before acking.
func (p *Publisher) Publish(ctx context.Context, changeID int64, change sqlitequeue.NewChange) error {
	subject := fmt.Sprintf("%s.%s", p.prefix, change.TableName)

	data, err := json.Marshal(struct {
		ChangeID   int64                       `json:"change_id"`
		TableName  string                      `json:"table_name"`
		Operation  sqlitequeue.ChangeOperation `json:"operation"`
		PrimaryKey string                      `json:"primary_key"`
	}{changeID, change.TableName, change.Operation, change.PrimaryKey})
	if err != nil {
		return fmt.Errorf("notify: marshal change notification: %w", err)
	}

	msgID := fmt.Sprintf("%s-%s-%s-%d", change.TableName, change.Operation, change.PrimaryKey, changeID)

	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Str("msg_id", msgID).Int64("change_id", changeID).
			Msg("failed to publish change notification")
		return fmt.Errorf("notify: publish to NATS: %w", err)
	}

	p.logger.Debug().Str("subject", subject).Int64("change_id", changeID).Msg("change notification published")
	return nil
}

// PublishBatch publishes a batch of durably enqueued changes in order.
func (p *Publisher) PublishBatch(ctx context.Context, changes []struct {
	ChangeID int64
	Change   sqlitequeue.NewChange
}) error {
	for _, c := range changes {
		if err := p.Publish(ctx, c.ChangeID, c.Change); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info().Msg("change notification publisher closed")
	}
}

// Healthy reports whether the NATS connection is currently up.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}

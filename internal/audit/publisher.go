package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultRelayInterval = 2 * time.Second
	defaultRelayBatch    = 100
)

// Publisher relays committed audit entries from the outbox table to Kafka.
// Outbox rows are written in the committing transaction, so the relay never
// observes an entry whose entity changes did not commit. Relaying is at-least-
// once: rows are only marked published after the produce succeeds, and
// consumers deduplicate on the entry id.
type Publisher struct {
	db       *sql.DB
	client   *kgo.Client
	log      logrus.FieldLogger
	interval time.Duration
	batch    int
}

// NewPublisher connects a Kafka producer for the given brokers and topic.
func NewPublisher(db *sql.DB, brokers []string, topic string, log logrus.FieldLogger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Publisher{
		db:       db,
		client:   client,
		log:      log,
		interval: defaultRelayInterval,
		batch:    defaultRelayBatch,
	}, nil
}

// Run relays outbox rows until ctx is done. Transient failures are logged
// and retried on the next tick; unpublished rows stay in the outbox.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.relayOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.WithError(err).Warn("audit outbox relay failed")
			}
		}
	}
}

// Close flushes and releases the Kafka producer.
func (p *Publisher) Close() {
	p.client.Close()
}

func (p *Publisher) relayOnce(ctx context.Context) error {
	txn, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox relay: %w", err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	const selectBatch = `
		SELECT id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := txn.QueryContext(ctx, selectBatch, p.batch)
	if err != nil {
		return fmt.Errorf("select outbox batch: %w", err)
	}
	defer rows.Close()

	var ids []string
	var records []*kgo.Record
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("scan outbox row: %w", err)
		}
		ids = append(ids, id)
		records = append(records, &kgo.Record{Key: []byte(id), Value: payload})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce outbox batch: %w", err)
	}

	const markPublished = `
		UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2::uuid[])
	`
	if _, err := txn.ExecContext(ctx, markPublished, time.Now(), ids); err != nil {
		return fmt.Errorf("mark outbox rows published: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit outbox relay: %w", err)
	}
	p.log.WithField("entries", len(records)).Debug("relayed audit entries")
	return nil
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/pkg/natsutil"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// StartConsumer subscribes to ImportSubject and imports every batch it
// receives. Each imported batch publishes its Summary to DoneSubject. Batches
// failing on the backend are republished with an incremented RetryHeader and
// go to DLQSubject after MaxRetries; undecodable payloads and batches naming
// an unknown label go to the DLQ at once.
func StartConsumer(nc *nats.Conn, im *Importer) (*nats.Subscription, error) {
	log := im.log.With("subject", ImportSubject)

	return natsutil.SubscribeMsg(nc, ImportSubject, func(ctx context.Context, msg BatchMessage, raw *nats.Msg) {
		retries := 0
		if raw.Header != nil {
			if v := raw.Header.Get(RetryHeader); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		sum, err := im.Import(ctx, msg.Batch)
		if err == nil {
			if err := natsutil.Publish(ctx, nc, DoneSubject, sum); err != nil {
				log.Error("ingest: done publish failed", "error", err)
			}
			if raw.Reply != "" {
				_ = raw.Respond(marshal(sum))
			}
			return
		}

		retries++
		log.Error("ingest: batch failed",
			"error", err,
			"batch_id", msg.ID,
			"label", msg.Batch.Label,
			"retry", retries,
		)
		if errors.Is(err, domain.ErrMalformedRecord) || retries >= MaxRetries {
			im.opts.Metrics.deadLetter(string(msg.Batch.Label))
			dlq := dlqMessage{ID: msg.ID, Batch: msg.Batch, Error: err.Error(), Retries: retries}
			if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
				log.Error("ingest: DLQ publish failed", "error", err)
			}
			return
		}
		hdr := nats.Header{}
		hdr.Set(RetryHeader, strconv.Itoa(retries))
		if err := natsutil.PublishHeader(ctx, nc, ImportSubject, hdr, msg); err != nil {
			log.Error("ingest: retry publish failed", "error", err)
		}
	}, func(raw *nats.Msg, err error) {
		log.Error("ingest: unmarshal failed", "error", err)
		im.opts.Metrics.deadLetter("")
		if err := nc.Publish(DLQSubject, marshal(map[string]string{
			"error":   err.Error(),
			"payload": string(raw.Data),
		})); err != nil {
			log.Error("ingest: DLQ publish failed", "error", err)
		}
	})
}

// PublishFixture publishes a fixture's batches to ImportSubject in dependency
// order and returns the batch message ids.
func PublishFixture(ctx context.Context, nc *nats.Conn, fx domain.Fixture) ([]string, error) {
	var ids []string
	for _, b := range fx.Batches() {
		msg := BatchMessage{ID: uuid.NewString(), Batch: b}
		if err := natsutil.Publish(ctx, nc, ImportSubject, msg); err != nil {
			return ids, fmt.Errorf("ingest: publish %s batch: %w", b.Label, err)
		}
		ids = append(ids, msg.ID)
	}
	return ids, nc.Flush()
}

func marshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

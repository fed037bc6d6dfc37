package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/enrich"
	"github.com/aak1247/sitetap/internal/ingest"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Adapters interface {
	Get(kind backend.Kind) backend.Adapter
}

type IngestorOptions struct {
	Sites        site.Resolver
	Adapters     Adapters
	Geo          enrich.Locator
	Metrics      *obs.Metrics
	Log          logrus.FieldLogger
	BatchSize    int
	FlushEvery   time.Duration
	FlushTimeout time.Duration
}

// Ingestor turns queue messages into stored events. Records are batched and
// written per backend kind; every record carries the queue message id as its
// ingest id, so a redelivered batch does not duplicate rows.
type Ingestor struct {
	sites    site.Resolver
	adapters Adapters
	geo      enrich.Locator
	metrics  *obs.Metrics
	log      logrus.FieldLogger
	batcher  *Batcher[routed]
}

type routed struct {
	kind backend.Kind
	rec  model.EventRecord
}

func NewIngestor(opts IngestorOptions) *Ingestor {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	i := &Ingestor{
		sites:    opts.Sites,
		adapters: opts.Adapters,
		geo:      opts.Geo,
		metrics:  opts.Metrics,
		log:      opts.Log.WithField("component", "ingestor"),
	}
	i.batcher = NewBatcher[routed](opts.BatchSize, opts.FlushEvery, opts.FlushTimeout, i.write)
	return i
}

func (i *Ingestor) Close() { i.batcher.Close() }

// Handle processes one queue message. A nil return acknowledges it; an error
// asks the queue to redeliver. Messages that can never succeed (bad JSON,
// invalid events, unknown tags) are logged and acknowledged.
func (i *Ingestor) Handle(ctx context.Context, id uuid.UUID, body []byte) error {
	var msg ingest.NSQMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		i.drop("invalid", err, logrus.Fields{"ingest_id": id})
		return nil
	}
	if msg.Type != "event" {
		i.drop("ignored", nil, logrus.Fields{"type": msg.Type})
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload == nil {
		i.drop("invalid", err, logrus.Fields{"tag_id": msg.TagID})
		return nil
	}
	if msg.TagID != "" {
		payload["tag_id"] = msg.TagID
	}
	rec, err := ingest.Canonicalize(payload)
	if err != nil {
		i.drop("invalid", err, logrus.Fields{"tag_id": msg.TagID})
		return nil
	}

	st, err := i.sites.Resolve(ctx, backend.SiteRef{TagID: rec.TagID})
	if errors.Is(err, apperr.ErrTenantMismatch) {
		i.drop("unknown_site", nil, logrus.Fields{"tag_id": rec.TagID})
		return nil
	}
	if err != nil {
		i.metrics.ObserveIngest("error")
		return err
	}
	rec.SiteID, rec.TeamID, rec.TagID = st.ID, st.TeamID, st.TagID
	ingestID := id
	rec.IngestID = &ingestID
	if msg.Meta != nil {
		enrich.Apply(i.geo, &rec, msg.Meta.ClientIP)
	}

	err = i.batcher.Add(ctx, routed{kind: backend.ParseKind(st.DBAdapter), rec: rec})
	switch {
	case err == nil:
		i.metrics.ObserveIngest("stored")
		return nil
	case retryable(err):
		i.metrics.ObserveIngest("requeued")
		i.log.WithError(err).WithField("site_id", st.ID).Warn("event write failed, requeueing")
		return err
	default:
		i.drop("rejected", err, logrus.Fields{"site_id": st.ID})
		return nil
	}
}

func (i *Ingestor) drop(res string, err error, fields logrus.Fields) {
	i.metrics.ObserveIngest(res)
	entry := i.log.WithFields(fields).WithField("result", res)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("message dropped")
}

// write stores one batch, grouped by backend kind in arrival order. The
// result carries one entry per item so a record the store rejects does not
// fail the rest of its batch.
func (i *Ingestor) write(ctx context.Context, items []routed) error {
	start := time.Now()
	byKind := map[backend.Kind][]int{}
	var order []backend.Kind
	for n, it := range items {
		if _, ok := byKind[it.kind]; !ok {
			order = append(order, it.kind)
		}
		byKind[it.kind] = append(byKind[it.kind], n)
	}

	results := make(ItemErrors, len(items))
	stored := len(items)
	for _, kind := range order {
		idx := byKind[kind]
		rows := make([]model.EventRecord, len(idx))
		for n, k := range idx {
			rows[n] = items[k].rec
		}
		for n, err := range insertAll(ctx, i.adapters.Get(kind), rows) {
			if err != nil {
				results[idx[n]] = err
				stored--
			}
		}
	}
	i.metrics.ObserveFlush(stored, time.Since(start), nil)
	if stored == len(items) {
		return nil
	}
	return results
}

// insertAll writes rows in one call when the adapter supports batches and
// returns one error slot per row. A batch the store refused for a reason a
// redelivery cannot fix is retried row by row, so only the offending rows
// fail. Errors worth a redelivery fail every row not yet written.
func insertAll(ctx context.Context, a backend.Adapter, rows []model.EventRecord) []error {
	out := make([]error, len(rows))
	if bi, ok := backend.As[backend.BatchInserter](a); ok {
		err := bi.InsertBatch(ctx, rows)
		if err == nil {
			return out
		}
		if retryable(err) || len(rows) == 1 {
			for n := range out {
				out[n] = err
			}
			return out
		}
	}
	for n, rec := range rows {
		_, err := a.Insert(ctx, rec)
		if err == nil {
			continue
		}
		out[n] = err
		if retryable(err) {
			for m := n + 1; m < len(rows); m++ {
				out[m] = err
			}
			break
		}
	}
	return out
}

func retryable(err error) bool {
	if apperr.Transient(err) {
		return true
	}
	switch apperr.KindOf(err) {
	case apperr.KindUnavailable, apperr.KindCancelled:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBatcherClosed)
}

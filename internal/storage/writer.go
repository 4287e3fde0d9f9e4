// Package storage implements the batched storage writer (C6): it subscribes
// to the normalized-event bus topic, buffers rows per destination table, and
// flushes in batches on a fixed interval or when the total buffered row
// count crosses a threshold, whichever comes first. Per-sensor temp/hum and
// noise readings are pivoted into one row per (device, module, batch
// window). DEVICE_METADATA bypasses the buffers and is upserted immediately
// on device_id.
package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/dbstore"
	"github.com/lattice-iot/gatewaylink/internal/metrics"
)

// Row is one buffered record awaiting a batched insert, keyed by column name.
type Row map[string]any

// Writer buffers canonical events into per-table row sets and flushes them
// to Postgres in batches. The buffers are owned exclusively by the writer
// worker; handle and flush are serialized by Run's single goroutine, the
// mutex only guards against the size-triggered flush racing the ticker.
type Writer struct {
	db  *dbstore.DB
	bus *bus.Bus
	log zerolog.Logger

	flushInterval time.Duration
	batchSize     int
	flushTimeout  time.Duration

	mu        sync.Mutex
	buffers   map[string][]Row
	totalRows int
	tempHum   map[pivotKey]*tempHumPivot
	noise     map[pivotKey]*noisePivot
}

// Options configures a Writer. FlushInterval and BatchSize default to the
// 1s/100-row values when zero.
type Options struct {
	FlushInterval time.Duration
	BatchSize     int
}

func New(db *dbstore.DB, b *bus.Bus, opts Options, log zerolog.Logger) *Writer {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Writer{
		db:            db,
		bus:           b,
		log:           log.With().Str("component", "storage").Logger(),
		flushInterval: opts.FlushInterval,
		batchSize:     opts.BatchSize,
		flushTimeout:  10 * time.Second,
		buffers:       make(map[string][]Row),
		tempHum:       make(map[pivotKey]*tempHumPivot),
		noise:         make(map[pivotKey]*noisePivot),
	}
}

// Run subscribes to the bus's normalized-event topic and drives the flush
// loop until stop is closed, performing one final flush on exit.
func (w *Writer) Run(stop <-chan struct{}) {
	defer w.bus.Recover("storage")

	ch, cancel := w.bus.Normalized.Subscribe()
	defer cancel()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			w.flushAll()
			return
		case ce, ok := <-ch:
			if !ok {
				w.flushAll()
				return
			}
			w.handle(ce)
		case <-ticker.C:
			w.flushAll()
		}
	}
}

// enqueue appends a row to table and flushes every buffer once the
// cross-table total crosses batchSize.
func (w *Writer) enqueue(table string, row Row) {
	w.mu.Lock()
	w.buffers[table] = append(w.buffers[table], row)
	w.totalRows++
	over := w.totalRows >= w.batchSize
	w.mu.Unlock()

	if over {
		w.flushAll()
	}
}

// flushAll drains the pivot accumulators into their buffers, then batch
// inserts every buffer. A failed batch is reported on the error topic and
// dropped; the pipeline keeps moving.
func (w *Writer) flushAll() {
	w.mu.Lock()
	for k, p := range w.tempHum {
		w.buffers["iot_temp_hum"] = append(w.buffers["iot_temp_hum"], p.row(k))
	}
	for k, p := range w.noise {
		w.buffers["iot_noise_level"] = append(w.buffers["iot_noise_level"], p.row(k))
	}
	w.tempHum = make(map[pivotKey]*tempHumPivot)
	w.noise = make(map[pivotKey]*noisePivot)

	pending := w.buffers
	w.buffers = make(map[string][]Row)
	w.totalRows = 0
	w.mu.Unlock()

	for table, rows := range pending {
		if len(rows) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.flushTimeout)
		asMaps := make([]map[string]any, len(rows))
		for i, r := range rows {
			asMaps[i] = r
		}
		n, err := w.db.InsertRows(ctx, table, asMaps)
		cancel()
		if err != nil {
			w.log.Error().Err(err).Str("table", table).Int("rows", len(rows)).Msg("batch insert failed, dropping batch")
			w.bus.ReportError("storage", err)
			continue
		}
		metrics.StorageRowsFlushedTotal.WithLabelValues(table).Add(float64(n))
		w.log.Debug().Str("table", table).Int64("rows", n).Msg("batch flushed")
	}
}

func parseAtNow() time.Time { return time.Now().UTC() }

func toJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

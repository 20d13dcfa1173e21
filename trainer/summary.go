package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vortexml/traind/eval"
	"github.com/vortexml/traind/pkg/mqtt"
)

const summaryFileName = "summaries.jsonl"

// Record is one append-only telemetry record, emitted by the primary
// process only.
type Record struct {
	RunID             string        `json:"run_id"`
	Step              uint64        `json:"step"`
	Loss              float64       `json:"loss"`
	Metrics           eval.Snapshot `json:"metrics"`
	ExamplesPerSecond float64       `json:"examples_per_second"`
	Timestamp         time.Time     `json:"timestamp"`
}

// SummaryWriter fans one record out to the JSONL stream, the prometheus
// registry and, when configured, the MQTT broker.
type SummaryWriter struct {
	runID     string
	path      string
	publisher mqtt.Publisher
	topic     string
	logger    *slog.Logger

	lossGauge  prometheus.Gauge
	hitGauge   prometheus.Gauge
	perrGauge  prometheus.Gauge
	gapGauge   prometheus.Gauge
	epsGauge   prometheus.Gauge
	stepsTotal prometheus.Counter
}

// NewSummaryWriter creates the sink rooted in the run directory. publisher
// may be nil when no broker is configured.
func NewSummaryWriter(dir, runID string, publisher mqtt.Publisher, reg prometheus.Registerer, logger *slog.Logger) (*SummaryWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}

	sw := &SummaryWriter{
		runID:     runID,
		path:      filepath.Join(dir, summaryFileName),
		publisher: publisher,
		topic:     fmt.Sprintf("traind/runs/%s/summaries", runID),
		logger:    logger,
		lossGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traind", Name: "training_loss", Help: "Composed scalar loss of the most recent reported step.",
		}),
		hitGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traind", Name: "training_hit_at_one", Help: "Hit@1 of the most recent reported step.",
		}),
		perrGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traind", Name: "training_perr", Help: "Precision at equal recall of the most recent reported step.",
		}),
		gapGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traind", Name: "training_gap", Help: "Global average precision of the most recent reported step.",
		}),
		epsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traind", Name: "examples_per_second", Help: "Training throughput of the most recent reported step.",
		}),
		stepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "traind", Name: "reported_steps_total", Help: "Number of summary records emitted.",
		}),
	}

	if reg != nil {
		reg.MustRegister(sw.lossGauge, sw.hitGauge, sw.perrGauge, sw.gapGauge, sw.epsGauge, sw.stepsTotal)
	}

	return sw, nil
}

// Write appends the record. The JSONL stream is the authoritative sink; a
// broker publish failure is logged and does not fail the step.
func (sw *SummaryWriter) Write(ctx context.Context, rec Record) error {
	rec.RunID = sw.runID
	rec.Timestamp = time.Now()

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(sw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open summary stream: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to append summary record: %w", err)
	}

	sw.lossGauge.Set(rec.Loss)
	sw.hitGauge.Set(rec.Metrics.HitAtOne)
	sw.perrGauge.Set(rec.Metrics.PERR)
	sw.gapGauge.Set(rec.Metrics.GAP)
	sw.epsGauge.Set(rec.ExamplesPerSecond)
	sw.stepsTotal.Inc()

	if sw.publisher != nil {
		if err := sw.publisher.Publish(ctx, sw.topic, rec); err != nil {
			sw.logger.Warn("failed to publish summary record", slog.Any("error", err))
		}
	}

	return nil
}

// Package trace records the spans of one changelog run and writes them out as a
// performance report. Upstream HTTP calls made through otelhttp transports nest
// under the stage that issued them.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	TRACER_NAME = "deployment-changelog"
	REPORT_FILE = "performance-report.json"

	// ATTR_ITEMS is set on stage spans to the number of items the stage produced
	ATTR_ITEMS = "items"
)

var logger = log.WithField("package", "trace")

var (
	mu       sync.RWMutex
	tracer   trace.Tracer
	recorder *spanRecorder
	reportTo string
)

type spanRecord struct {
	name       string
	spanID     string
	parentID   string
	start      time.Time
	end        time.Time
	failed     bool
	attributes map[string]string
}

// spanRecorder collects ended spans. Fan-out stages end spans from many goroutines at once.
type spanRecorder struct {
	mu    sync.Mutex
	spans []spanRecord
}

func (r *spanRecorder) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {}

func (r *spanRecorder) OnEnd(s sdktrace.ReadOnlySpan) {
	rec := spanRecord{
		name:   s.Name(),
		spanID: s.SpanContext().SpanID().String(),
		start:  s.StartTime(),
		end:    s.EndTime(),
		failed: s.Status().Code == codes.Error,
	}
	if s.Parent().IsValid() {
		rec.parentID = s.Parent().SpanID().String()
	}
	if attrs := s.Attributes(); len(attrs) > 0 {
		rec.attributes = make(map[string]string, len(attrs))
		for _, kv := range attrs {
			rec.attributes[string(kv.Key)] = kv.Value.Emit()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, rec)
}

func (r *spanRecorder) Shutdown(ctx context.Context) error   { return nil }
func (r *spanRecorder) ForceFlush(ctx context.Context) error { return nil }

func (r *spanRecorder) snapshot() []spanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]spanRecord, len(r.spans))
	copy(out, r.spans)
	return out
}

type SpanInfo struct {
	Name       string            `json:"name"`
	DurationMs float64           `json:"durationMs"`
	Start      string            `json:"start"`
	End        string            `json:"end"`
	Failed     bool              `json:"failed,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Children   []SpanInfo        `json:"children,omitempty"`
}

// SpanSummary aggregates every span sharing a name, e.g. all upstream GETs of a run
type SpanSummary struct {
	Name            string  `json:"name"`
	Count           int     `json:"count"`
	Failed          int     `json:"failed"`
	TotalDurationMs float64 `json:"totalDurationMs"`
	MaxDurationMs   float64 `json:"maxDurationMs"`
}

type PerformanceReport struct {
	Spans           []SpanInfo    `json:"spans"`
	Summary         []SpanSummary `json:"summary"`
	TotalDurationMs float64       `json:"totalDurationMs"`
	Timestamp       string        `json:"timestamp"`
}

// InitTracer installs a tracer provider that records spans for the performance report
// written to outDir on shutdown. When disabled, StartSpan hands out the span already in
// the context and nothing is recorded.
func InitTracer(serviceName string, enabled bool, outDir string) (func(), error) {
	if !enabled {
		return func() {}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	rec := &spanRecorder{}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(rec),
	)
	otel.SetTracerProvider(tp)

	mu.Lock()
	tracer = tp.Tracer(TRACER_NAME)
	recorder = rec
	reportTo = outDir
	mu.Unlock()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to shut down tracer provider")
		}
		if err := ExportReport(); err != nil {
			logger.WithError(err).WithField("dir", outDir).Warn("Failed to export performance report")
		}

		mu.Lock()
		tracer = nil
		mu.Unlock()
	}, nil
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	mu.RLock()
	t := tracer
	mu.RUnlock()
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.Start(ctx, name)
}

// Fail marks span as failed with err
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ExportReport writes the performance report to <outDir>/performance-report.json
func ExportReport() error {
	mu.RLock()
	rec, dir := recorder, reportTo
	mu.RUnlock()
	if rec == nil || dir == "" {
		return nil
	}
	records := rec.snapshot()
	if len(records) == 0 {
		return nil
	}

	report := PerformanceReport{
		Spans:     buildHierarchy(records),
		Summary:   summarize(records),
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
	for _, span := range report.Spans {
		report.TotalDurationMs += span.DurationMs
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, REPORT_FILE), data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// buildHierarchy nests records under their parents. Records whose parent was not
// recorded become roots. Siblings are ordered by start time.
func buildHierarchy(records []spanRecord) []SpanInfo {
	byID := make(map[string]spanRecord, len(records))
	for _, rec := range records {
		byID[rec.spanID] = rec
	}

	children := make(map[string][]spanRecord)
	var roots []spanRecord
	for _, rec := range records {
		if _, ok := byID[rec.parentID]; !ok {
			roots = append(roots, rec)
			continue
		}
		children[rec.parentID] = append(children[rec.parentID], rec)
	}

	var materialize func(recs []spanRecord) []SpanInfo
	materialize = func(recs []spanRecord) []SpanInfo {
		sort.Slice(recs, func(i, j int) bool { return recs[i].start.Before(recs[j].start) })
		infos := make([]SpanInfo, 0, len(recs))
		for _, rec := range recs {
			infos = append(infos, SpanInfo{
				Name:       rec.name,
				DurationMs: durationMs(rec.end.Sub(rec.start)),
				Start:      rec.start.Format(time.RFC3339Nano),
				End:        rec.end.Format(time.RFC3339Nano),
				Failed:     rec.failed,
				Attributes: rec.attributes,
				Children:   materialize(children[rec.spanID]),
			})
		}
		if len(infos) == 0 {
			return nil
		}
		return infos
	}

	return materialize(roots)
}

// summarize groups records by name, slowest total first
func summarize(records []spanRecord) []SpanSummary {
	byName := make(map[string]*SpanSummary)
	for _, rec := range records {
		s, ok := byName[rec.name]
		if !ok {
			s = &SpanSummary{Name: rec.name}
			byName[rec.name] = s
		}
		d := durationMs(rec.end.Sub(rec.start))
		s.Count++
		s.TotalDurationMs += d
		if d > s.MaxDurationMs {
			s.MaxDurationMs = d
		}
		if rec.failed {
			s.Failed++
		}
	}

	out := make([]SpanSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalDurationMs != out[j].TotalDurationMs {
			return out[i].TotalDurationMs > out[j].TotalDurationMs
		}
		return out[i].Name < out[j].Name
	})
	return out
}

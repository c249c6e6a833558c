package tracking

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/studyhub/locsync/pkg/core"
)

const instrumentationName = "github.com/studyhub/locsync/internal/tracking"

type metrics struct {
	fixesApplied metric.Int64Counter
	peerDropped  metric.Int64Counter
	suppressedN  metric.Int64Counter
	staleN       metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)

	out.fixesApplied, err = m.Int64Counter(
		"locsync.fixes.applied",
		metric.WithDescription("Self positions applied to the subject map"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fixes counter: %w", err)
	}

	out.peerDropped, err = m.Int64Counter(
		"locsync.peer.dropped",
		metric.WithDescription("Peer updates discarded before reaching the subject map"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating peer dropped counter: %w", err)
	}

	out.suppressedN, err = m.Int64Counter(
		"locsync.network.suppressed",
		metric.WithDescription("Network failures logged instead of surfaced"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating suppressed counter: %w", err)
	}

	out.staleN, err = m.Int64Counter(
		"locsync.responses.stale",
		metric.WithDescription("Responses discarded because the session changed or a newer fix was applied"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stale counter: %w", err)
	}

	return &out, nil
}

func (m *metrics) applied(source core.FixSource) {
	m.fixesApplied.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", string(source))))
}

func (m *metrics) dropped(reason string) {
	m.peerDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metrics) suppressed(op string) {
	m.suppressedN.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *metrics) stale(op string) {
	m.staleN.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/paw-chain/poc/types"
)

// NodeInstruments are the node level OpenTelemetry instruments. Package
// internals report through their own Prometheus collectors; these cover the
// pipeline as a whole.
type NodeInstruments struct {
	submissions metric.Int64Counter
	duration    metric.Float64Histogram
	issued      metric.Float64Counter
	epoch       metric.Int64Gauge
	rollover    metric.Float64Histogram
}

// NewNodeInstruments registers the node instruments on meter.
func NewNodeInstruments(meter metric.Meter) (*NodeInstruments, error) {
	submissions, err := meter.Int64Counter(
		"poc.submissions.total",
		metric.WithDescription("Submissions processed by outcome"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"poc.submission.processing_time",
		metric.WithDescription("Time from admission to final outcome"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	issued, err := meter.Float64Counter(
		"poc.rewards.issued",
		metric.WithDescription("Token amount issued as contribution rewards"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	epoch, err := meter.Int64Gauge(
		"poc.epoch.current",
		metric.WithDescription("Current epoch"),
		metric.WithUnit("{epoch}"),
	)
	if err != nil {
		return nil, err
	}

	rollover, err := meter.Float64Histogram(
		"poc.epoch.rollover_time",
		metric.WithDescription("Epoch rollover time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &NodeInstruments{
		submissions: submissions,
		duration:    duration,
		issued:      issued,
		epoch:       epoch,
		rollover:    rollover,
	}, nil
}

// RecordSubmission records one processed submission.
func (ni *NodeInstruments) RecordSubmission(
	ctx context.Context,
	contributionType types.ContributionType,
	status types.SubmissionStatus,
	duration time.Duration,
) {
	attrs := metric.WithAttributes(
		attribute.String("contribution.type", contributionType.String()),
		attribute.String("submission.status", string(status)),
	)
	ni.submissions.Add(ctx, 1, attrs)
	ni.duration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordIssued records an issued reward amount.
func (ni *NodeInstruments) RecordIssued(ctx context.Context, rec types.RewardRecord) {
	amount, err := rec.Amount.Float64()
	if err != nil {
		return
	}
	ni.issued.Add(ctx, amount, metric.WithAttributes(
		attribute.String("contribution.type", rec.ContributionType.String()),
	))
}

// RecordEpoch records a completed rollover into epoch.
func (ni *NodeInstruments) RecordEpoch(ctx context.Context, epoch uint64, duration time.Duration) {
	ni.epoch.Record(ctx, int64(epoch))
	ni.rollover.Record(ctx, float64(duration.Milliseconds()))
}

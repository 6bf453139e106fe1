package telemetry

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"qpfwatch/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData API for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder publishes each run as one PutMetricData call. Every
// datum carries the Location dimension.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder writing to namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = "QPFWatch"
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

// RecordRun implements Recorder.
func (r *CloudWatchRecorder) RecordRun(ctx context.Context, report RunReport) {
	location := cwtypes.Dimension{Name: aws.String(types.DimLocation), Value: aws.String(report.Location)}

	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricBestTotalInches),
			Value:      aws.Float64(report.BestTotal),
			Unit:       cwtypes.StandardUnitNone,
			Dimensions: []cwtypes.Dimension{location},
		},
		{
			MetricName: aws.String(types.MetricAlertActive),
			Value:      aws.Float64(boolGauge(report.AlertActive)),
			Unit:       cwtypes.StandardUnitNone,
			Dimensions: []cwtypes.Dimension{location},
		},
		{
			MetricName: aws.String(types.MetricAlertEmitted),
			Value:      aws.Float64(boolGauge(report.AlertEmitted)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{location},
		},
		{
			MetricName: aws.String(types.MetricRunDuration),
			Value:      aws.Float64(float64(report.Duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{location},
		},
		{
			MetricName: aws.String(types.MetricRunOutcome),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				location,
				{Name: aws.String(types.DimOutcome), Value: aws.String(report.Outcome)},
			},
		},
	}

	for _, src := range report.SourceFailures {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricSourceFailure),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				location,
				{Name: aws.String(types.DimSource), Value: aws.String(string(src))},
			},
		})
	}
	for _, sink := range report.MirrorFailures {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricMirrorFailure),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				location,
				{Name: aws.String(types.DimSink), Value: aws.String(sink)},
			},
		})
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	}
	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to record run metrics",
			"error", err.Error(),
			"location", report.Location,
			"outcome", report.Outcome,
		)
	}
}

// Flush implements Recorder. RecordRun already sent everything.
func (r *CloudWatchRecorder) Flush(context.Context) error { return nil }

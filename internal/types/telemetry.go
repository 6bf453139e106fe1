package types

// Telemetry metric names. All recorder backends MUST use these constants.
const (
	MetricBestTotalInches = "BestTotalInches"
	MetricAlertActive     = "AlertActive"
	MetricAlertEmitted    = "AlertEmitted"
	MetricSourceFailure   = "SourceFailure"
	MetricMirrorFailure   = "MirrorFailure"
	MetricRunDuration     = "RunDuration"
	MetricRunOutcome      = "RunOutcome"

	// Dimension Keys
	DimLocation = "Location"
	DimSource   = "Source"
	DimSink     = "Sink"
	DimOutcome  = "Outcome"

	// Run outcomes
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

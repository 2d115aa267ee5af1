package performance

const (
	PeriodStatusDraft  = "draft"
	PeriodStatusOpen   = "open"
	PeriodStatusClosed = "closed"

	DefaultScoreCap   = 100.0
	DefaultScoreFloor = 0.0
)

package notifications

const (
	TypeCalculationCompleted = "kpi_calculation_completed"
	TypeLowPerformance       = "kpi_low_performance"
	TypeCalibrationRecorded  = "kpi_calibration_recorded"

	DefaultFrom = "no-reply@example.com"
)

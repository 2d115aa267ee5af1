package auth

const (
	RoleEmployee    = "employee"
	RoleManager     = "manager"
	RoleHR          = "hr"
	RoleSystemAdmin = "system_admin"
)

const (
	PermMetricsRead      = "kpi.metrics.read"
	PermMetricsWrite     = "kpi.metrics.write"
	PermAssignmentsRead  = "kpi.assignments.read"
	PermAssignmentsWrite = "kpi.assignments.write"
	PermCalculate        = "kpi.calculate"
	PermCalibrate        = "kpi.calibrate"
	PermResultsRead      = "kpi.results.read"
	PermAuditRead        = "audit.read"
	PermSystemAdmin      = "admin.system"
)

var DefaultPermissions = []string{
	PermMetricsRead,
	PermMetricsWrite,
	PermAssignmentsRead,
	PermAssignmentsWrite,
	PermCalculate,
	PermCalibrate,
	PermResultsRead,
	PermAuditRead,
	PermSystemAdmin,
}

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermMetricsRead,
		PermAssignmentsRead,
		PermResultsRead,
	},
	RoleManager: {
		PermMetricsRead,
		PermAssignmentsRead,
		PermAssignmentsWrite,
		PermResultsRead,
	},
	RoleHR: {
		PermMetricsRead,
		PermMetricsWrite,
		PermAssignmentsRead,
		PermAssignmentsWrite,
		PermCalculate,
		PermCalibrate,
		PermResultsRead,
		PermAuditRead,
	},
	RoleSystemAdmin: {
		PermAuditRead,
		PermSystemAdmin,
	},
}

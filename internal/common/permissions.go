package common

// File permission constants
const (
	// FilePermissionSecure is used for dwh.cfg, which holds credentials
	FilePermissionSecure = 0600

	// FilePermissionNormal is used for reports and lake output files
	FilePermissionNormal = 0644

	// DirPermissionNormal is used for report and partition directories
	DirPermissionNormal = 0755
)

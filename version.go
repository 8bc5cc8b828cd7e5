package supervise

// Version is the current version of the go-supervise library
const Version = "1.0.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Protocol is the status record protocol supported
	Protocol string
	// Compatible indicates the status record is runit-readable
	Compatible bool
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:    Version,
		Protocol:   "supervise/1",
		Compatible: true,
	}
}

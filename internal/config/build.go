package config

// Set at link time, for example:
//
//	go build -ldflags "-X qpfwatch/internal/config.version=1.0.0 \
//	    -X qpfwatch/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X qpfwatch/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/qpf-alert
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

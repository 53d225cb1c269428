// Package version exposes build metadata injected at link time.
package version

// These variables are set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/kasumi-bot/kasumi/common/version.Version=v0.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

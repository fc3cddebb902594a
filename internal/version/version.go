package version

// Version is overridden at build time with -ldflags "-X poe-bridge/internal/version.Version=...".
var Version = "0.3.0-dev"

package buildinfo

// Version is overridden at build time:
// go build -ldflags="-X github.com/pixelgardenlabs/shotsync/pkg/buildinfo.Version=1.0.0"
var Version = "dev"

// Name is the canonical application name used in logs, lock ids and metadata.
var Name = "ShotSync"

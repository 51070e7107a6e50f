// Package version reports the worker build and the persisted formats it
// reads and writes.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
)

// Version is set with -X github.com/Aman-CERP/annworker/pkg/version.Version=$(VERSION).
// Builds without ldflags fall back to the module version, then "dev".
var Version = "dev"

var (
	// Commit is the git commit hash, from ldflags or the embedded VCS stamp.
	Commit = "unknown"

	// Date is the build or commit time in RFC3339 format.
	Date = "unknown"

	GoVersion = runtime.Version()
)

// Persisted format versions. A build only reads data written with these.
const (
	// StoreSchema is stored under the durable store's schema_version key.
	StoreSchema = "1"

	// IndexFormat prefixes every serialized index blob.
	IndexFormat uint16 = 1
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	GoVersion   string `json:"go_version"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	StoreSchema string `json:"store_schema"`
	IndexFormat string `json:"index_format"`
}

var stampOnce sync.Once

// stamp fills fields left at their defaults from the binary's build info.
func stamp() {
	stampOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if Commit == "unknown" && len(s.Value) >= 7 {
					Commit = s.Value[:7]
				}
			case "vcs.time":
				if Date == "unknown" {
					Date = s.Value
				}
			}
		}
	})
}

// String returns the version line followed by the persisted formats.
func String() string {
	stamp()
	return fmt.Sprintf("annworker %s (commit: %s, built: %s, go: %s)\nstore schema: v%s, index format: v%d",
		Version, Commit, Date, GoVersion, StoreSchema, IndexFormat)
}

// Short returns just the version string.
func Short() string {
	stamp()
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	stamp()
	return BuildInfo{
		Version:     Version,
		Commit:      Commit,
		Date:        Date,
		GoVersion:   GoVersion,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		StoreSchema: StoreSchema,
		IndexFormat: strconv.Itoa(int(IndexFormat)),
	}
}

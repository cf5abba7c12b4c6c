// Package version хранит сведения о сборке posync.
// Значения задаются через -ldflags "-X .../internal/version.version=...";
// без них используется VCS-информация из go build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build описывает собранный бинарник кассы или posctl.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

// Info возвращает данные сборки.
func Info() Build {
	return fromBuildInfo(debug.ReadBuildInfo())
}

func fromBuildInfo(info *debug.BuildInfo, ok bool) Build {
	b := Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
	if ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = s.Value
				}
			case "vcs.time":
				if b.Date == "" {
					b.Date = s.Value
				}
			case "vcs.modified":
				b.Modified = s.Value == "true"
			}
		}
	}
	if len(b.Commit) > 12 {
		b.Commit = b.Commit[:12]
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

// Version возвращает версию для /health.
func Version() string { return version }

func (b Build) String() string {
	s := fmt.Sprintf("%s (%s, %s, %s)", b.Version, b.Commit, b.Date, b.GoVersion)
	if b.Modified {
		s += " dirty"
	}
	return s
}

// Package diag wires an opt-in wall-clock profile into cmd/rocsift,
// gated behind ROCSIFT_PROFILE so normal runs pay nothing for it.
package diag

import (
	"os"

	"github.com/felixge/fgprof"

	"github.com/rocsift/rocsift-go/internal/rlog"
)

const profileEnvVar = "ROCSIFT_PROFILE"

const profilePath = "rocsift.pprof"

// Stop ends a profiling session started by MaybeStart, flushing the
// pprof file to disk.
type Stop func()

// MaybeStart checks ROCSIFT_PROFILE and, if set to "1", opens profilePath
// and starts an fgprof session covering the rest of the process. Callers
// defer the returned Stop unconditionally; when profiling wasn't
// requested it's a no-op.
func MaybeStart() Stop {
	if os.Getenv(profileEnvVar) != "1" {
		return func() {}
	}

	f, err := os.Create(profilePath)
	if err != nil {
		rlog.Warnf("diag: could not create %s, profiling disabled: %v", profilePath, err)

		return func() {}
	}

	stopProfile := fgprof.Start(f, fgprof.FormatPprof)

	return func() {
		if err := stopProfile(); err != nil {
			rlog.Warnf("diag: fgprof stop failed: %v", err)
		}

		if err := f.Close(); err != nil {
			rlog.Warnf("diag: closing %s failed: %v", profilePath, err)
		}
	}
}

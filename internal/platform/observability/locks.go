package observability

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
)

// ConfigureLockChecks sets process-wide lock checking for every
// deadlock.Mutex. Disabled checks make the mutexes plain sync ones. Enabled
// checks log a suspected deadlock and keep the process running.
func ConfigureLockChecks(logger zerolog.Logger, enabled bool, timeout time.Duration) {
	logger = Component(logger, "locks")
	deadlock.Opts.Disable = !enabled
	deadlock.Opts.DeadlockTimeout = timeout
	deadlock.Opts.LogBuf = lockReport{logger: logger}
	deadlock.Opts.OnPotentialDeadlock = func() {
		logger.Error().Msg("potential deadlock detected")
	}
}

type lockReport struct {
	logger zerolog.Logger
}

func (r lockReport) Write(p []byte) (int, error) {
	if report := strings.TrimSpace(string(p)); report != "" {
		r.logger.Warn().Str("report", report).Msg("lock check")
	}
	return len(p), nil
}

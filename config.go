package eventqueue

import "time"

// Config carries the timing knobs a host may want to tune. None of it is
// required, and nothing in this package reads it: NewQueue and NewMainQueue
// take only a Logger.
type Config struct {
	// ShutdownDrainTimeout bounds how long MainQueue.RequestShutdown's
	// caller should expect draining the queue to take before giving up
	// waiting. It is advisory only: the core state machine itself never
	// times out a shutdown.
	ShutdownDrainTimeout time.Duration `json:"shutdownDrainTimeout" yaml:"shutdownDrainTimeout"`

	// HandleNextPollInterval is the interval a host's worker loop should
	// poll handleNext at when storage reports Idle. Purely a convenience
	// default for a host's driver loop (cmd/eventqueuectl uses its own cron
	// tick schedule instead); the core never sleeps.
	HandleNextPollInterval time.Duration `json:"handleNextPollInterval" yaml:"handleNextPollInterval"`
}

// DefaultConfig returns sane documented defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownDrainTimeout:   5 * time.Second,
		HandleNextPollInterval: 10 * time.Millisecond,
	}
}

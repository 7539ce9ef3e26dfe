package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// OrchestratorChanged is true when any retry/fallback tuning changed.
	OrchestratorChanged bool

	// JobsChanged is true when the worker-pool tuning changed. Applying it
	// requires restarting the pool, which the watcher callback decides.
	JobsChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Orchestrator != new.Orchestrator {
		d.OrchestratorChanged = true
	}
	if old.Jobs != new.Jobs {
		d.JobsChanged = true
	}
	return d
}

// Empty reports whether the diff carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.OrchestratorChanged && !d.JobsChanged
}

package config

import "time"

// GetWatchDebounce returns the watcher debounce window as a duration.
func (c *Config) GetWatchDebounce() (time.Duration, error) {
	if c.Plugins.WatchDebounce == "" {
		return 500 * time.Millisecond, nil
	}
	return time.ParseDuration(c.Plugins.WatchDebounce)
}

package goble

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Options tunes the go-ble driver.
type Options struct {
	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration `default:"30s"`
	// AllowDuplicates reports repeated advertisements so RSSI stays current.
	AllowDuplicates bool `default:"true"`
	// ReconnectBackoffMax caps the wait between auto-connect attempts.
	ReconnectBackoffMax time.Duration `default:"30s"`
}

func DefaultOptions() Options {
	opts := Options{}
	defaults.SetDefaults(&opts)
	return opts
}

// backoffDelay returns the wait before auto-connect attempt n (0-based), doubling from one second up to limit.
func backoffDelay(attempt int, limit time.Duration) time.Duration {
	if attempt > 30 {
		return limit
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > limit {
		return limit
	}
	return delay
}

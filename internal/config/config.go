package config

import (
	"runtime"
	"time"
)

// GlobalConfig holds the global configuration for the application
type GlobalConfig struct {
	// Profile is the default AWS profile for billing API access
	Profile string

	// BillingRole is the role name to assume for cross-account billing reads
	BillingRole string

	// MaxWorkers defines the maximum number of concurrent workers for batch runs
	MaxWorkers int

	// GlobalConcurrency caps simultaneously-running provider calls across all clients
	GlobalConcurrency int

	// ProviderConcurrency caps concurrent calls against any single provider's API
	ProviderConcurrency int

	// TaskTimeout is the hard deadline for one collection task
	TaskTimeout time.Duration

	// VisibilityTimeout is how long a dequeued task stays hidden before redelivery
	VisibilityTimeout time.Duration

	// MaxAttempts is the delivery count after which a task is dead-lettered
	MaxAttempts int

	// LogFormat is the format for logging
	LogFormat string
}

// Config is the global configuration instance
var Config = &GlobalConfig{
	Profile:             "default",
	MaxWorkers:          runtime.NumCPU() * 4, // Tasks are I/O bound
	GlobalConcurrency:   8,
	ProviderConcurrency: 2,
	TaskTimeout:         10 * time.Minute,
	VisibilityTimeout:   5 * time.Minute,
	MaxAttempts:         5,
}

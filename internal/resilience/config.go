package resilience

import "time"

// Circuit breaker defaults.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 1
)

// Outcome is how a call result counts against the breaker.
type Outcome int

const (
	CountSuccess Outcome = iota
	CountFailure
	CountNothing
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // open -> half-open delay
	HalfOpenSuccesses int           // trial successes needed to close
	Classify          func(error) Outcome
}

// CountErrors is the default classifier: any error is a failure.
func CountErrors(err error) Outcome {
	if err != nil {
		return CountFailure
	}
	return CountSuccess
}

// DefaultConfig returns the upstream breaker defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "upstream",
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "upstream"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.Classify == nil {
		c.Classify = CountErrors
	}
	return c
}

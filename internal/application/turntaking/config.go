package turntaking

import (
	"fmt"
	"time"
)

// Config tunes the controller's timing behaviour
type Config struct {
	// ResumeListeningDelay keeps the microphone closed after AI audio ends so
	// the tail of the playback is not picked up as candidate speech
	ResumeListeningDelay time.Duration `mapstructure:"resume_listening_delay"`

	// InterruptSettleDelay is how long INTERRUPTED lasts after a manual interrupt
	InterruptSettleDelay time.Duration `mapstructure:"interrupt_settle_delay"`

	// MaxSpeakingDuration forces LISTENING when one AI turn runs longer; 0 disables
	MaxSpeakingDuration time.Duration `mapstructure:"max_speaking_duration"`

	// BargeInOnInterim interrupts the AI as soon as interim speech arrives
	BargeInOnInterim bool `mapstructure:"barge_in_on_interim"`
}

// DefaultConfig returns the timings used by the interview client
func DefaultConfig() Config {
	return Config{
		ResumeListeningDelay: 800 * time.Millisecond,
		InterruptSettleDelay: 150 * time.Millisecond,
		BargeInOnInterim:     true,
	}
}

// Validate checks the durations are usable
func (c Config) Validate() error {
	if c.ResumeListeningDelay < 0 {
		return fmt.Errorf("resume_listening_delay must not be negative")
	}
	if c.InterruptSettleDelay < 0 {
		return fmt.Errorf("interrupt_settle_delay must not be negative")
	}
	if c.MaxSpeakingDuration < 0 {
		return fmt.Errorf("max_speaking_duration must not be negative")
	}
	return nil
}

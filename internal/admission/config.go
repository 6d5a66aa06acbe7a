package admission

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the canvas rules shared by the Tracker and the Gate.
type Config struct {
	GridWidth  int
	GridHeight int
	Cooldown   time.Duration
}

// DefaultConfig is the 600x400 canvas with a ten minute cooldown.
func DefaultConfig() Config {
	return Config{
		GridWidth:  600,
		GridHeight: 400,
		Cooldown:   10 * time.Minute,
	}
}

// Validate rejects degenerate grids and non-positive cooldowns.
func (c Config) Validate() error {
	if c.GridWidth <= 0 || c.GridHeight <= 0 {
		return fmt.Errorf("grid must be positive, got %dx%d", c.GridWidth, c.GridHeight)
	}
	if c.Cooldown <= 0 {
		return errors.New("cooldown must be positive")
	}
	return nil
}

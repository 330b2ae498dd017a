package ringtone

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"zemichat-backend/pkg/logger"
)

// Player drives the device audio output for the incoming call alert
type Player interface {
	Play() error
	Stop() error
}

// Vibrator pulses the device's haptic engine
type Vibrator interface {
	Vibrate(d time.Duration) error
}

const vibrationInterval = 2 * time.Second
const vibrationPulse = 500 * time.Millisecond

// Controller owns the ringing alert: looped audio plus a periodic vibration
// pulse. Start and Stop are idempotent; the vibration goroutine never
// outlives a Stop.
type Controller struct {
	player   Player
	vibrator Vibrator

	mu      sync.Mutex
	ringing bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewController creates a ringtone controller. vibrator may be nil on
// devices without a haptic engine.
func NewController(player Player, vibrator Vibrator) *Controller {
	return &Controller{
		player:   player,
		vibrator: vibrator,
	}
}

// Start begins the ringing alert. Calling it while already ringing is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ringing {
		return
	}
	c.ringing = true
	c.done = make(chan struct{})

	if err := c.player.Play(); err != nil {
		logger.Warn("ringtone playback failed", zap.Error(err))
	}

	if c.vibrator != nil {
		c.wg.Add(1)
		go c.vibrateLoop(c.done)
	}
}

// Stop silences the alert and halts vibration. Safe to call at any time,
// any number of times.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ringing {
		return
	}
	c.ringing = false
	close(c.done)

	if err := c.player.Stop(); err != nil {
		logger.Warn("ringtone stop failed", zap.Error(err))
	}
}

// Ringing reports whether the alert is currently active
func (c *Controller) Ringing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ringing
}

// Wait blocks until any running vibration loop has exited. Intended for
// tests and shutdown paths.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) vibrateLoop(done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(vibrationInterval)
	defer ticker.Stop()

	// First pulse fires immediately, matching the audio start
	if err := c.vibrator.Vibrate(vibrationPulse); err != nil {
		logger.Debug("vibration failed", zap.Error(err))
	}

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.vibrator.Vibrate(vibrationPulse); err != nil {
				logger.Debug("vibration failed", zap.Error(err))
			}
		}
	}
}

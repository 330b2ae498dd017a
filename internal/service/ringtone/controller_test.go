package ringtone

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"zemichat-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

type fakePlayer struct {
	mu    sync.Mutex
	plays int
	stops int
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.stops
}

type fakeVibrator struct {
	mu     sync.Mutex
	pulses int
}

func (v *fakeVibrator) Vibrate(d time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pulses++
	return nil
}

func (v *fakeVibrator) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pulses
}

func TestStartStop(t *testing.T) {
	player := &fakePlayer{}
	c := NewController(player, nil)

	assert.False(t, c.Ringing())

	c.Start()
	assert.True(t, c.Ringing())

	c.Stop()
	assert.False(t, c.Ringing())

	plays, stops := player.counts()
	assert.Equal(t, 1, plays)
	assert.Equal(t, 1, stops)
}

func TestStartIsIdempotent(t *testing.T) {
	player := &fakePlayer{}
	c := NewController(player, nil)

	c.Start()
	c.Start()
	c.Start()

	plays, _ := player.counts()
	assert.Equal(t, 1, plays)

	c.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	player := &fakePlayer{}
	c := NewController(player, nil)

	// Stop without Start does nothing
	c.Stop()

	c.Start()
	c.Stop()
	c.Stop()
	c.Stop()

	_, stops := player.counts()
	assert.Equal(t, 1, stops)
}

func TestVibrationLoopExitsOnStop(t *testing.T) {
	player := &fakePlayer{}
	vibrator := &fakeVibrator{}
	c := NewController(player, vibrator)

	c.Start()

	// The first pulse fires immediately on start
	assert.Eventually(t, func() bool {
		return vibrator.count() >= 1
	}, time.Second, 10*time.Millisecond)

	c.Stop()
	c.Wait()

	settled := vibrator.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, vibrator.count())
}

func TestRestartAfterStop(t *testing.T) {
	player := &fakePlayer{}
	c := NewController(player, &fakeVibrator{})

	c.Start()
	c.Stop()
	c.Wait()

	c.Start()
	assert.True(t, c.Ringing())
	c.Stop()
	c.Wait()

	plays, stops := player.counts()
	assert.Equal(t, 2, plays)
	assert.Equal(t, 2, stops)
}

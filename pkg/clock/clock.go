// Package clock provides the virtual simulation clock.
package clock

import (
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCadenceRequired is returned when the clock cadence is not positive
var ErrCadenceRequired = errors.New("clock cadence must be positive")

// MaxSpeed is the largest speed multiplier. Larger values are clamped so a
// single step always fits in a time.Duration.
const MaxSpeed uint64 = math.MaxUint32

// State is the lifecycle state of a clock.
type State int

const (
	// Stopped is the rest state; no driver is running.
	Stopped State = iota
	// Running means the driver notifies listeners and advances simulated time.
	Running
	// Paused keeps the driver alive but freezes notifications and time.
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// TickFunc is called once per tick with the current simulated time.
// It runs on the driver goroutine and must not block.
type TickFunc func(simTime time.Time)

// Snapshot is a consistent view of the clock state.
type Snapshot struct {
	SimTime time.Time
	Speed   uint64
	State   State
}

type listener struct {
	handle string
	fn     TickFunc
}

// Clock advances a simulated timestamp by Speed seconds for every real cadence and
// notifies its listeners synchronously on every tick.
type Clock struct {
	log     logrus.FieldLogger
	cadence time.Duration

	// runMu serializes Start and Stop so a driver is always joined before another starts.
	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	simTime time.Time
	speed   uint64
	running bool
	paused  bool

	listenersMu sync.RWMutex
	listeners   []listener
}

// New creates a stopped clock
func New(log logrus.FieldLogger, cadence time.Duration, speed uint64) (*Clock, error) {
	if cadence <= 0 {
		return nil, ErrCadenceRequired
	}

	return &Clock{
		log:     log.WithField("component", "clock"),
		cadence: cadence,
		speed:   min(speed, MaxSpeed),
	}, nil
}

// Register adds a tick listener. Registering an existing handle replaces its
// function while keeping its position.
func (c *Clock) Register(handle string, fn TickFunc) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	for i := range c.listeners {
		if c.listeners[i].handle == handle {
			c.listeners[i].fn = fn
			return
		}
	}

	c.listeners = append(c.listeners, listener{handle: handle, fn: fn})
}

// Unregister removes a tick listener.
func (c *Clock) Unregister(handle string) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.listeners = slices.DeleteFunc(c.listeners, func(l listener) bool {
		return l.handle == handle
	})
}

// Start stops any running driver, waits for it to exit and starts a new one at
// initial. Start clears the paused flag.
func (c *Clock) Start(initial time.Time) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.stopLocked()

	c.mu.Lock()
	c.simTime = initial
	c.running = true
	c.paused = false
	c.mu.Unlock()

	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.run(c.stop, c.done)

	c.log.WithFields(logrus.Fields{
		"sim_time": initial.UTC().Format(time.RFC3339),
		"speed":    c.Speed(),
	}).Info("Clock started")
}

// Stop signals the driver and waits for it to exit. No listener is notified
// by the stopped driver after Stop returns.
func (c *Clock) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.stopLocked() {
		c.log.Info("Clock stopped")
	}
}

func (c *Clock) stopLocked() bool {
	if c.stop == nil {
		return false
	}

	close(c.stop)
	<-c.done

	c.stop = nil
	c.done = nil

	c.mu.Lock()
	c.running = false
	c.paused = false
	c.mu.Unlock()

	return true
}

// Pause freezes or resumes tick dispatch without stopping the driver.
func (c *Clock) Pause(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paused = paused
}

// SetSpeed sets the number of simulated seconds per cadence, effective from the next tick.
func (c *Clock) SetSpeed(speed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if speed > MaxSpeed {
		c.log.WithField("speed", speed).Warn("Speed clamped to maximum")

		speed = MaxSpeed
	}

	c.speed = speed
}

// Speed returns the current speed multiplier.
func (c *Clock) Speed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.speed
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.simTime
}

// State returns the current lifecycle state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stateLocked()
}

// Snapshot returns the simulated time, speed and state read under one lock.
func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SimTime: c.simTime,
		Speed:   c.speed,
		State:   c.stateLocked(),
	}
}

func (c *Clock) stateLocked() State {
	switch {
	case !c.running:
		return Stopped
	case c.paused:
		return Paused
	default:
		return Running
	}
}

func (c *Clock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		next = next.Add(c.cadence)

		c.mu.Lock()
		paused := c.paused
		simTime := c.simTime
		c.mu.Unlock()

		if !paused {
			c.dispatch(simTime)
		}

		timer.Reset(time.Until(next))

		select {
		case <-stop:
			return
		case <-timer.C:
		}

		if !paused {
			c.mu.Lock()
			c.simTime = c.simTime.Add(time.Duration(c.speed) * time.Second)
			c.mu.Unlock()
		}
	}
}

func (c *Clock) dispatch(simTime time.Time) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()

	for _, l := range c.listeners {
		c.notify(l, simTime)
	}
}

func (c *Clock) notify(l listener, simTime time.Time) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.log.WithFields(logrus.Fields{
				"listener": l.handle,
				"panic":    recovered,
			}).Error("Panic in tick listener")
		}
	}()

	l.fn(simTime)
}

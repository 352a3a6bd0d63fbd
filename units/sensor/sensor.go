// Package sensor provides a simulated sonic distance sensor unit.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/robo/bus"
	"github.com/najoast/robo/core"
)

// Type is the factory name of the sonic sensor unit.
const Type = "sonic-sensor"

const (
	DefaultPeriod      = 100 * time.Millisecond
	DefaultMinDistance = 5.0
	DefaultMaxDistance = 250.0
)

// Port is a digital sensor port.
type Port struct {
	Name  string
	Index int
}

var ports = map[string]Port{
	"S1": {Name: "S1", Index: 0},
	"S2": {Name: "S2", Index: 1},
	"S3": {Name: "S3", Index: 2},
	"S4": {Name: "S4", Index: 3},
}

// LookupPort returns the port with the given name.
func LookupPort(name string) (Port, bool) {
	p, ok := ports[name]
	return p, ok
}

// Reading is one distance sample in centimeters.
type Reading struct {
	Port     string
	Distance float64
	At       time.Time
}

// Sonic samples a simulated distance every period and offers it to the
// target with TrySend. Readings are perishable: when the target is busy the
// sample is dropped. Any message triggers an extra sample.
//
// Configuration:
//
//	port          S1..S4 (required)
//	target        unit receiving readings
//	period        sampling period (default 100ms, 0 disables the ticker)
//	min_distance  lower bound of simulated readings (default 5)
//	max_distance  upper bound of simulated readings (default 250)
type Sonic struct {
	logger *slog.Logger
	port   Port
	target *core.Reference
	period time.Duration

	// Source produces raw distances; the default is a bounded random walk.
	Source func() float64

	distance atomic.Uint64
	emitted  atomic.Int64
	dropped  atomic.Int64
	running  atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an unconfigured sensor.
func New() *Sonic {
	return &Sonic{logger: slog.Default(), period: DefaultPeriod}
}

// RequiredKeys implements core.ConfigSchema.
func (s *Sonic) RequiredKeys() []string {
	return []string{"port"}
}

// Initialize implements core.Initializable.
func (s *Sonic) Initialize(env core.UnitEnv, cfg core.Configuration) error {
	if env.Logger != nil {
		s.logger = env.Logger
	}

	name := cfg.StringOr("port", "")
	port, ok := LookupPort(name)
	if !ok {
		return &core.ConfigurationError{Key: "port", Reason: fmt.Sprintf("unknown port %q", name)}
	}
	s.port = port

	var err error
	if s.period, err = cfg.Duration("period", DefaultPeriod); err != nil {
		return err
	}
	if s.period < 0 {
		return &core.ConfigurationError{Key: "period", Reason: "must not be negative"}
	}

	lo, err := cfg.Float("min_distance", DefaultMinDistance)
	if err != nil {
		return err
	}
	hi, err := cfg.Float("max_distance", DefaultMaxDistance)
	if err != nil {
		return err
	}
	if lo < 0 || hi <= lo {
		return &core.ConfigurationError{Key: "max_distance", Reason: "must be greater than min_distance"}
	}

	if id, ok := cfg.String("target"); ok {
		ref, err := env.Reference(id)
		if err != nil {
			return err
		}
		s.target = &ref
	}

	if s.Source == nil {
		s.Source = randomWalk(lo, hi)
	}
	return nil
}

// OnStart implements core.Starter.
func (s *Sonic) OnStart(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running.Store(true)

	if s.period > 0 {
		s.wg.Add(1)
		go s.sampleLoop(ctx)
	}
	return nil
}

// OnStop implements core.Stopper.
func (s *Sonic) OnStop(context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
	return nil
}

// OnMessage implements core.MessageHandler.
func (s *Sonic) OnMessage(context.Context, any) error {
	s.sample()
	return nil
}

func (s *Sonic) sampleLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sonic) sample() Reading {
	r := Reading{Port: s.port.Name, Distance: s.Source(), At: time.Now()}
	s.distance.Store(math.Float64bits(r.Distance))

	if s.target == nil {
		return r
	}

	ok, err := s.target.TrySend(r, bus.PriorityLow)
	switch {
	case err != nil:
		s.dropped.Add(1)
		s.logger.Debug("reading not delivered", "target", s.target.ID(), "error", err)
	case !ok:
		s.dropped.Add(1)
	default:
		s.emitted.Add(1)
	}
	return r
}

// GetAttribute implements core.AttributeQueryable.
func (s *Sonic) GetAttribute(d core.AttributeDescriptor) (any, bool) {
	switch d.Name {
	case "getStatus":
		return s.running.Load(), true
	case "distance":
		return math.Float64frombits(s.distance.Load()), true
	case "dropped":
		return s.dropped.Load(), true
	case "emitted":
		return s.emitted.Load(), true
	case "port":
		return s.port.Name, true
	}
	return nil, false
}

func randomWalk(lo, hi float64) func() float64 {
	var mu sync.Mutex
	current := (lo + hi) / 2
	step := (hi - lo) / 20

	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		current += (rand.Float64()*2 - 1) * step
		current = min(max(current, lo), hi)
		return current
	}
}

package command

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/najoast/robo/bus"
	"github.com/najoast/robo/core"
)

// Type is the factory name of the Commander unit.
const Type = "commander"

// BatchFile is the layout of a batch_file resource.
type BatchFile struct {
	Batches map[string]string `yaml:"batches"`
}

// Commander plays named batches against its target unit. A string message
// naming a configured batch plays it; any other string is parsed as an
// inline batch. []Step and Step messages are forwarded as is.
//
// Configuration:
//
//	target       unit receiving the steps (required)
//	priority     send priority of the steps (default normal)
//	batch.<name> batch definition
//	batch_file   YAML resource with a "batches" map
type Commander struct {
	logger   *slog.Logger
	target   core.Reference
	priority int

	mu      sync.RWMutex
	batches map[string][]Step
	last    string

	played atomic.Int64
	steps  atomic.Int64
}

// NewCommander creates an unconfigured Commander.
func NewCommander() *Commander {
	return &Commander{batches: make(map[string][]Step)}
}

// RequiredKeys implements core.ConfigSchema.
func (c *Commander) RequiredKeys() []string {
	return []string{"target"}
}

// Initialize implements core.Initializable.
func (c *Commander) Initialize(env core.UnitEnv, cfg core.Configuration) error {
	c.logger = env.Logger

	target, err := env.Reference(cfg.StringOr("target", ""))
	if err != nil {
		return err
	}
	c.target = target

	if c.priority, err = cfg.Int("priority", bus.PriorityNormal); err != nil {
		return err
	}

	batches := make(map[string][]Step)

	if file, ok := cfg.String("batch_file"); ok {
		if err := loadBatchFile(env.Resources, file, batches); err != nil {
			return &core.ConfigurationError{Key: "batch_file", Reason: err.Error()}
		}
	}

	for name, def := range cfg.WithPrefix("batch.") {
		steps, err := ParseBatch(def)
		if err != nil {
			return &core.ConfigurationError{Key: "batch." + name, Reason: err.Error()}
		}
		batches[name] = steps
	}

	c.mu.Lock()
	c.batches = batches
	c.mu.Unlock()
	return nil
}

func loadBatchFile(resources *core.ResourceLoader, path string, into map[string][]Step) error {
	if resources == nil {
		return fmt.Errorf("no resource loader for %s", path)
	}

	data, err := resources.ReadFile(path)
	if err != nil {
		return err
	}

	var file BatchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for name, def := range file.Batches {
		steps, err := ParseBatch(def)
		if err != nil {
			return fmt.Errorf("batch %s: %w", name, err)
		}
		into[name] = steps
	}
	return nil
}

// Batch returns the steps of a configured batch.
func (c *Commander) Batch(name string) ([]Step, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	steps, ok := c.batches[name]
	return slices.Clone(steps), ok
}

// OnMessage implements core.MessageHandler.
func (c *Commander) OnMessage(ctx context.Context, payload any) error {
	switch msg := payload.(type) {
	case string:
		name := msg
		steps, ok := c.Batch(name)
		if !ok {
			var err error
			if steps, err = ParseBatch(msg); err != nil {
				return err
			}
			name = "inline"
		}
		return c.play(name, steps)
	case []Step:
		return c.play("inline", msg)
	case Step:
		return c.play("inline", []Step{msg})
	default:
		return fmt.Errorf("commander: unsupported message %T", payload)
	}
}

func (c *Commander) play(name string, steps []Step) error {
	for _, step := range steps {
		if err := c.target.SendWithPriority(step, c.priority); err != nil {
			return fmt.Errorf("batch %s: step %s: %w", name, step, err)
		}
		c.steps.Add(1)
	}

	c.played.Add(1)
	c.mu.Lock()
	c.last = name
	c.mu.Unlock()

	c.logger.Debug("batch played", "batch", name, "steps", len(steps), "target", c.target.ID())
	return nil
}

// GetAttribute implements core.AttributeQueryable.
func (c *Commander) GetAttribute(d core.AttributeDescriptor) (any, bool) {
	switch d.Name {
	case "batches":
		c.mu.RLock()
		defer c.mu.RUnlock()
		return slices.Sorted(maps.Keys(c.batches)), true
	case "played":
		return c.played.Load(), true
	case "steps":
		return c.steps.Load(), true
	case "last":
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.last, true
	}
	return nil, false
}

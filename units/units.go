// Package units registers the built-in unit types.
package units

import (
	"github.com/najoast/robo/bootstrap"
	"github.com/najoast/robo/core"
	"github.com/najoast/robo/units/command"
	"github.com/najoast/robo/units/ingress"
	"github.com/najoast/robo/units/motor"
	"github.com/najoast/robo/units/natsbridge"
	"github.com/najoast/robo/units/recorder"
	"github.com/najoast/robo/units/sensor"
)

// RegisterAll adds every built-in unit type to r.
func RegisterAll(r *bootstrap.Registry) error {
	factories := map[string]bootstrap.Factory{
		command.Type:    func() core.MessageHandler { return command.NewCommander() },
		ingress.Type:    func() core.MessageHandler { return ingress.New() },
		motor.Type:      func() core.MessageHandler { return motor.New() },
		natsbridge.Type: func() core.MessageHandler { return natsbridge.New() },
		recorder.Type:   func() core.MessageHandler { return recorder.New() },
		sensor.Type:     func() core.MessageHandler { return sensor.New() },
	}

	for typ, factory := range factories {
		if err := r.Register(typ, factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every built-in unit type.
func NewRegistry() *bootstrap.Registry {
	r := bootstrap.NewRegistry()
	if err := RegisterAll(r); err != nil {
		panic(err)
	}
	return r
}

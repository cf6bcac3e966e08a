// Package servicesregistry registers the bundled sample services and object
// types.
package servicesregistry

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/service"
	"github.com/IRCAD/sight-sub074/services/logger"
	"github.com/IRCAD/sight-sub074/services/reader"
	"github.com/IRCAD/sight-sub074/services/viewer"
	"github.com/IRCAD/sight-sub074/services/writer"
)

// ObjectTypes lists the object types registered by RegisterObjects.
var ObjectTypes = []string{"Image", "Mesh", "Series"}

// Register registers every sample service with the provided registry.
func Register(registry *service.Registry) error {
	if registry == nil {
		return errors.WrapFatal(stderrors.New("registry cannot be nil"),
			"ServicesRegistry", "Register", "registry validation")
	}

	for name, register := range map[string]func(*service.Registry) error{
		reader.TypeName: reader.Register,
		viewer.TypeName: viewer.Register,
		writer.TypeName: writer.Register,
		logger.TypeName: logger.Register,
	} {
		if err := register(registry); err != nil {
			return errors.WrapInvalid(err, "ServicesRegistry", "Register", name+" service registration")
		}
	}
	return nil
}

// RegisterObjects registers the sample object types with factory. Their
// configuration is a flat map of initial field values.
func RegisterObjects(factory *data.Factory) error {
	if factory == nil {
		return errors.WrapFatal(stderrors.New("factory cannot be nil"),
			"ServicesRegistry", "RegisterObjects", "factory validation")
	}
	for _, typeName := range ObjectTypes {
		if err := factory.Register(typeName, fieldObject(typeName)); err != nil {
			return errors.WrapInvalid(err, "ServicesRegistry", "RegisterObjects", typeName+" object registration")
		}
	}
	return nil
}

func fieldObject(typeName string) data.Constructor {
	return func(cfg json.RawMessage) (data.Object, error) {
		obj := data.NewGeneric(typeName)
		if len(cfg) == 0 || string(cfg) == "null" {
			return obj, nil
		}
		var fields map[string]any
		if err := json.Unmarshal(cfg, &fields); err != nil {
			return nil, errors.Configf("ServicesRegistry", "fieldObject", "%s config: %v", typeName, err)
		}
		// nothing is connected yet, so the modified emissions reach no one
		for k, v := range fields {
			if err := obj.Set(context.Background(), k, v); err != nil {
				return nil, err
			}
		}
		return obj, nil
	}
}

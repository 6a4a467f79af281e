// Package config defines the file format that tunes calibration and pose estimation and the
// objects registered for estimation.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/objectpose/rimage/detection/chessboard"
	"go.viam.com/objectpose/vision/objectmodel"
	"go.viam.com/objectpose/vision/pose"
)

// DefaultAxisLength is the length of drawn pose axes in template units.
const DefaultAxisLength = 10.

// DefaultObject is registered when a config names no objects.
var DefaultObject = Object{
	Name:       "cookie",
	Dimensions: objectmodel.Dimensions{Length: 44.5, Width: 44.5, Height: 11.7},
}

// Object is one registered object class. Class indices follow list order.
type Object struct {
	Name       string                 `json:"name"`
	Dimensions objectmodel.Dimensions `json:"dimensions"`
}

// Validate ensures the object has a name and a non-degenerate box.
func (o *Object) Validate(path string) error {
	if o.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if err := o.Dimensions.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Config is the full tool configuration. Missing sections take their defaults in Ensure.
type Config struct {
	ConfigFilePath string `json:"-"`

	Chessboard *chessboard.DetectionConfiguration `json:"chessboard,omitempty"`
	Ransac     *pose.RansacConfig                 `json:"ransac,omitempty"`
	Objects    []Object                           `json:"objects,omitempty"`
	AxisLength float64                            `json:"axis_length,omitempty"`
}

// NewDefaultConfig returns the configuration used when no file is given.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	if err := cfg.Ensure(); err != nil {
		panic(err)
	}
	return cfg
}

// Ensure fills in defaults and validates every section.
func (c *Config) Ensure() error {
	if c.Chessboard == nil {
		c.Chessboard = chessboard.NewDefaultDetectionConfiguration()
	}
	if c.Ransac == nil {
		ransac := pose.DefaultRansacConfig()
		c.Ransac = &ransac
	}
	if len(c.Objects) == 0 {
		c.Objects = []Object{DefaultObject}
	}
	if c.AxisLength == 0 {
		c.AxisLength = DefaultAxisLength
	}
	return c.Validate("")
}

// Validate reports every invalid field, each prefixed with its position in the file.
func (c *Config) Validate(path string) error {
	prefix := func(field string) string {
		if path == "" {
			return field
		}
		return path + "." + field
	}
	var errs error
	if c.Chessboard != nil {
		errs = multierr.Append(errs, c.Chessboard.Validate(prefix("chessboard")))
	}
	if c.Ransac != nil {
		errs = multierr.Append(errs, c.Ransac.Validate(prefix("ransac")))
	}
	for idx := range c.Objects {
		errs = multierr.Append(errs, c.Objects[idx].Validate(fmt.Sprintf("%s.%d", prefix("objects"), idx)))
	}
	dups := lo.FindDuplicatesBy(c.Objects, func(o Object) string { return o.Name })
	for _, o := range dups {
		errs = multierr.Append(errs, errors.Errorf("%s: object name %q is not unique", prefix("objects"), o.Name))
	}
	if c.AxisLength < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s must not be negative", prefix("axis_length")))
	}
	return errs
}

// Registry builds an object registry holding the configured objects in order.
func (c *Config) Registry() (*objectmodel.Registry, error) {
	registry := objectmodel.NewRegistry()
	for _, o := range c.Objects {
		if err := registry.Register(o.Name, o.Dimensions); err != nil {
			return nil, errors.Wrapf(err, "cannot register %q", o.Name)
		}
	}
	return registry, nil
}

// Package objectmodel holds the rigid cuboid objects whose pose can be estimated, each described
// by a template of 3D keypoints in the object frame.
package objectmodel

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrNotFound is returned for names or class indices that are not registered.
var ErrNotFound = errors.New("object not registered")

// Dimensions are the cuboid extents along X (length), Y (width) and Z (height).
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate checks the dimensions are positive and finite.
func (d Dimensions) Validate() error {
	for _, v := range []float64{d.Length, d.Width, d.Height} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("invalid object dimensions %+v: every extent must be positive and finite", d)
		}
	}
	return nil
}

// Template is a registered object and its keypoints.
type Template struct {
	Name       string
	Dimensions Dimensions
	Points     []r3.Vector
}

// NewTemplate computes the keypoints of a cuboid centred on the origin.
func NewTemplate(name string, dims Dimensions) *Template {
	half := r3.Vector{X: dims.Length / 2, Y: dims.Width / 2, Z: dims.Height / 2}
	pts := make([]r3.Vector, NumKeypoints)
	for i, s := range signs {
		pts[i] = r3.Vector{X: s[0] * half.X, Y: s[1] * half.Y, Z: s[2] * half.Z}
	}
	return &Template{Name: name, Dimensions: dims, Points: pts}
}

// Point returns the position of keypoint k.
func (t *Template) Point(k Keypoint) r3.Vector {
	return t.Points[k]
}

// Registry maps object names to templates. Class indices are positions in registration order;
// unregistering an object shifts the indices of those registered after it.
type Registry struct {
	mu        sync.RWMutex
	templates []*Template
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an object. Registering an existing name replaces its dimensions and keeps its index.
func (r *Registry) Register(name string, dims Dimensions) error {
	if name == "" {
		return errors.New("object name cannot be empty")
	}
	if err := dims.Validate(); err != nil {
		return err
	}
	tmpl := NewTemplate(name, dims)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, idx, ok := lo.FindIndexOf(r.templates, func(t *Template) bool { return t.Name == name }); ok {
		r.templates[idx] = tmpl
		return nil
	}
	r.templates = append(r.templates, tmpl)
	return nil
}

// Unregister removes an object. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = lo.Reject(r.templates, func(t *Template, _ int) bool { return t.Name == name })
}

// TemplateFor returns the template registered under name.
func (r *Registry) TemplateFor(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := lo.Find(r.templates, func(t *Template) bool { return t.Name == name })
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "name %q", name)
	}
	return tmpl, nil
}

// TemplateAt returns the template of a class index.
func (r *Registry) TemplateAt(index int) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.templates) {
		return nil, errors.Wrapf(ErrNotFound, "class index %d", index)
	}
	return r.templates[index], nil
}

// IndexOf returns the class index of name.
func (r *Registry) IndexOf(name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, idx, ok := lo.FindIndexOf(r.templates, func(t *Template) bool { return t.Name == name })
	if !ok {
		return -1, errors.Wrapf(ErrNotFound, "name %q", name)
	}
	return idx, nil
}

// Names returns the registered names in class index order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.templates, func(t *Template, _ int) string { return t.Name })
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

package observer

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/notify"
	"github.com/rs/zerolog"
)

// Registration binds an observer to the column it watches.
type Registration struct {
	Name     string
	Column   data.Column
	Type     notify.Type
	Observer Observer
	Rows     *RowFilter
}

// Registry maps observed columns to their observers. It is built before the
// processor starts and read-only afterwards.
type Registry struct {
	byColumn map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byColumn: make(map[string]*Registration)}
}

// Register adds an observer for col. A column can be observed only once.
func (r *Registry) Register(reg Registration) error {
	if reg.Observer == nil {
		return fmt.Errorf("observer %q: nil observer", reg.Name)
	}

	key := reg.Column.Key()
	if existing, ok := r.byColumn[key]; ok {
		return fmt.Errorf("column %s already observed by %q", reg.Column, existing.Name)
	}

	r.byColumn[key] = &reg
	return nil
}

// Lookup returns the registration for col.
func (r *Registry) Lookup(col data.Column) (*Registration, bool) {
	reg, ok := r.byColumn[col.Key()]
	return reg, ok
}

// Registrations returns all registrations ordered by column.
func (r *Registry) Registrations() []*Registration {
	regs := make([]*Registration, 0, len(r.byColumn))
	for _, reg := range r.byColumn {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool {
		return regs[i].Column.Compare(regs[j].Column) < 0
	})
	return regs
}

// Columns returns the observed columns.
func (r *Registry) Columns() []data.Column {
	regs := r.Registrations()
	cols := make([]data.Column, len(regs))
	for i, reg := range regs {
		cols[i] = reg.Column
	}
	return cols
}

// Close closes every observer that implements io.Closer.
func (r *Registry) Close() error {
	var errs []error
	for _, reg := range r.Registrations() {
		if c, ok := reg.Observer.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close observer %q: %w", reg.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Factory builds a builtin observer from its configuration.
type Factory func(conf cfg.ObserverConfiguration, logger zerolog.Logger) (Observer, error)

var builtins = map[string]Factory{
	"log":    newLogObserver,
	"rollup": newRollupObserver,
}

// FromConfig builds a registry from observer configurations.
func FromConfig(confs []cfg.ObserverConfiguration, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, conf := range confs {
		factory, ok := builtins[conf.Name]
		if !ok {
			return nil, fmt.Errorf("unknown observer %q", conf.Name)
		}

		typ, err := notify.ParseType(conf.Type)
		if err != nil {
			return nil, fmt.Errorf("observer %q: %w", conf.Name, err)
		}

		rows, err := NewRowFilter(conf.Rows)
		if err != nil {
			return nil, fmt.Errorf("observer %q: %w", conf.Name, err)
		}

		obs, err := factory(conf, logger.With().Str("observer", conf.Name).Logger())
		if err != nil {
			return nil, fmt.Errorf("observer %q: %w", conf.Name, err)
		}

		if err := r.Register(Registration{
			Name:     conf.Name,
			Column:   data.NewColumn(conf.Family, conf.Qualifier),
			Type:     typ,
			Observer: obs,
			Rows:     rows,
		}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

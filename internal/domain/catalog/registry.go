package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/erp/console/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return identifierPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Validate checks the configuration before any view is opened on it
func (c EntityConfig) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return shared.NewValidationError(e.Namespace(), validationMessage(e))
		}
		return err
	}

	for _, f := range c.SortableFields {
		if _, ok := c.Column(f); !ok {
			return shared.NewValidationError("sortable_fields", fmt.Sprintf("%q is not a declared column", f))
		}
	}
	for _, f := range c.SearchFields {
		if _, ok := c.Column(f); !ok {
			return shared.NewValidationError("search_fields", fmt.Sprintf("%q is not a declared column", f))
		}
	}
	seen := make(map[string]bool, len(c.Dimensions))
	for _, d := range c.Dimensions {
		if seen[d.Name] {
			return shared.NewValidationError("dimensions", fmt.Sprintf("dimension %q declared twice", d.Name))
		}
		seen[d.Name] = true
		if field := d.DimensionField(); field != "" {
			if _, ok := c.Column(field); !ok {
				return shared.NewValidationError("dimensions", fmt.Sprintf("dimension %q filters undeclared column %q", d.Name, field))
			}
		}
	}
	if !c.DefaultSort.IsZero() && !c.IsSortable(c.DefaultSort.Field) {
		return shared.NewValidationError("default_sort", fmt.Sprintf("%q is not sortable", c.DefaultSort.Field))
	}
	return nil
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "identifier":
		return "Must be a lowercase identifier"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "min":
		return "Must have at least " + e.Param() + " entries"
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	default:
		return "Invalid value"
	}
}

// Registry resolves entity configurations by kind or collection name
type Registry struct {
	mu      sync.RWMutex
	configs map[Kind]EntityConfig
}

// NewRegistry creates a registry holding the given configurations
func NewRegistry(configs ...EntityConfig) (*Registry, error) {
	r := &Registry{configs: make(map[Kind]EntityConfig, len(configs))}
	for _, c := range configs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with the built-in entities
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic(fmt.Sprintf("built-in entity configuration is invalid: %v", err))
	}
	return r
}

// Register validates and adds (or replaces) a configuration
func (r *Registry) Register(c EntityConfig) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("entity %q: %w", c.Kind, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, existing := range r.configs {
		if kind != c.Kind && existing.Collection == c.Collection {
			return fmt.Errorf("entity %q: %w", c.Kind,
				shared.NewValidationError("collection", fmt.Sprintf("collection %q already used by %q", c.Collection, kind)))
		}
	}
	r.configs[c.Kind] = c
	return nil
}

// Get returns the configuration of kind
func (r *Registry) Get(kind Kind) (EntityConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[kind]
	if !ok {
		return EntityConfig{}, fmt.Errorf("entity %q: %w", kind, shared.ErrNotFound)
	}
	return c, nil
}

// ByCollection returns the configuration listing the given collection
func (r *Registry) ByCollection(collection string) (EntityConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.configs {
		if c.Collection == collection {
			return c, nil
		}
	}
	return EntityConfig{}, fmt.Errorf("collection %q: %w", collection, shared.ErrNotFound)
}

// Kinds returns the registered kinds sorted by name
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.configs))
	for k := range r.configs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

type overrideFile struct {
	Entities []yaml.Node `yaml:"entities"`
}

// LoadOverrides reads entity overrides from YAML. An entry whose kind matches a
// registered entity is decoded on top of it, so only changed keys need to be
// listed; other entries add new entities.
func (r *Registry) LoadOverrides(in io.Reader) error {
	var file overrideFile
	if err := yaml.NewDecoder(in).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse entity overrides: %w", err)
	}

	for i := range file.Entities {
		node := &file.Entities[i]
		var head struct {
			Kind Kind `yaml:"kind"`
		}
		if err := node.Decode(&head); err != nil {
			return fmt.Errorf("entity override %d: %w", i, err)
		}
		if head.Kind == "" {
			return fmt.Errorf("entity override %d: %w", i, shared.NewValidationError("kind", "This field is required"))
		}

		cfg, err := r.Get(head.Kind)
		if err != nil {
			cfg = EntityConfig{Kind: head.Kind}
		}
		if err := node.Decode(&cfg); err != nil {
			return fmt.Errorf("entity override %q: %w", head.Kind, err)
		}
		if err := r.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

// LoadOverridesFile reads entity overrides from a YAML file
func (r *Registry) LoadOverridesFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open entity overrides: %w", err)
	}
	defer f.Close()
	return r.LoadOverrides(f)
}

package checks

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Builder constructs a Checker from the decoded payload of its configuration
// tag. A nil payload means the tag was present with an empty value.
type Builder func(payload map[string]interface{}) (Checker, error)

// Registry maps configuration tags to checker builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: map[string]Builder{},
	}
}

// Register adds a builder for tag. Tags are lowercase and unique.
func (r *Registry) Register(tag string, b Builder) error {
	if tag == "" || tag != strings.ToLower(tag) {
		return fmt.Errorf("checker tag %q must be a non-empty lowercase string", tag)
	}
	if tag == "name" {
		return fmt.Errorf("checker tag %q collides with the check name field", tag)
	}
	if b == nil {
		return fmt.Errorf("checker %q: nil builder", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builders[tag]; exists {
		return fmt.Errorf("duplicate checker %q", tag)
	}
	r.builders[tag] = b
	return nil
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[tag]
	return ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for tag := range r.builders {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Build constructs the checker registered under tag.
func (r *Registry) Build(tag string, payload map[string]interface{}) (Checker, error) {
	r.mu.RLock()
	b, ok := r.builders[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownChecker, tag, strings.Join(r.Tags(), ", "))
	}
	c, err := b(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tag, err)
	}
	return c, nil
}

var defaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	reg := NewRegistry()
	for tag, b := range map[string]Builder{
		KindDummy: buildDummy,
		KindTCP:   buildTCP,
		KindTLS:   buildTLS,
		KindHTTP:  buildHTTP,
		KindDNS:   buildDNS,
		KindICMP:  buildICMP,
	} {
		if err := reg.Register(tag, b); err != nil {
			panic(err)
		}
	}
	return reg
}

// Default returns the registry used when decoding configuration.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a builder to the default registry.
func Register(tag string, b Builder) error {
	return defaultRegistry.Register(tag, b)
}

// Build constructs a checker from the default registry.
func Build(tag string, payload map[string]interface{}) (Checker, error) {
	return defaultRegistry.Build(tag, payload)
}

func decode(input map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  rejectFractionalInts,
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// rejectFractionalInts stops mapstructure from truncating 22.7 into 22 when
// the target is an integer.
func rejectFractionalInts(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.Float32 && from.Kind() != reflect.Float64 {
		return data, nil
	}
	if to.Kind() == reflect.Ptr {
		to = to.Elem()
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return nil, fmt.Errorf("expected an integer, got %v", data)
	}
	return data, nil
}

func decodePort(raw *int, fallback int, required bool) (uint16, error) {
	if raw == nil {
		if required {
			return 0, fmt.Errorf("port is required")
		}
		return uint16(fallback), nil
	}
	if *raw < 0 || *raw > 65535 {
		return 0, fmt.Errorf("port %d out of range 0-65535", *raw)
	}
	return uint16(*raw), nil
}

package shardroute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Operation a shard bound callable. When the entity is table sharded the
// first argument is the actual table name.
type Operation func(ctx context.Context, args ...any) (any, error)

// Descriptor maps operation names to callables for one (shard, entity) pair.
type Descriptor struct {
	Shard    string
	Name     string
	Entity   string
	TableArg bool

	operations map[string]Operation
}

func NewDescriptor(key ResourceKey, entity string, tableArg bool, operations map[string]Operation) *Descriptor {
	ops := make(map[string]Operation, len(operations))
	for name, op := range operations {
		ops[name] = op
	}
	return &Descriptor{Shard: key.Shard, Name: key.Name, Entity: entity, TableArg: tableArg, operations: ops}
}

// Operation looks up name, failing with ErrUnknownOperation.
func (d *Descriptor) Operation(name string) (Operation, error) {
	if op, ok := d.operations[name]; ok {
		return op, nil
	}
	return nil, fmt.Errorf("%w: %s has no operation %q", ErrUnknownOperation, d.Name, name)
}

// Operations sorted operation names
func (d *Descriptor) Operations() []string {
	names := make([]string, 0, len(d.operations))
	for name := range d.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResourceKey identifies a descriptor: the shard and its shard qualified name.
type ResourceKey struct {
	Shard string
	Name  string
}

func (k ResourceKey) String() string {
	return k.Shard + "/" + k.Name
}

// flightKey unambiguous even when ids contain the separator
func (k ResourceKey) flightKey() string {
	return strconv.Quote(k.Shard) + "/" + strconv.Quote(k.Name)
}

// Generator builds the descriptor of an entity on a shard.
type Generator interface {
	Generate(ctx context.Context, key ResourceKey, entity *Entity) (*Descriptor, error)
}

type GeneratorFunc func(ctx context.Context, key ResourceKey, entity *Entity) (*Descriptor, error)

func (f GeneratorFunc) Generate(ctx context.Context, key ResourceKey, entity *Entity) (*Descriptor, error) {
	return f(ctx, key, entity)
}

// ResourceRegistry lazily generates descriptors and keeps them for the
// process lifetime. Generation for one key runs once at a time; unrelated
// keys generate in parallel. Failures are not cached.
type ResourceRegistry struct {
	generator Generator
	metrics   *metrics
	cache     sync.Map
	group     singleflight.Group
}

func NewResourceRegistry(generator Generator) *ResourceRegistry {
	return &ResourceRegistry{generator: generator}
}

// Resolve returns the descriptor for key, generating it on first use.
// Generation is shared by concurrent callers and outlives the cancellation
// of any one of them; each caller stops waiting when its own ctx is done.
func (r *ResourceRegistry) Resolve(ctx context.Context, key ResourceKey, entity *Entity) (*Descriptor, error) {
	if d, ok := r.cache.Load(key); ok {
		return d.(*Descriptor), nil
	}
	genCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.flightKey(), func() (interface{}, error) {
		if d, ok := r.cache.Load(key); ok {
			return d, nil
		}
		d, err := r.generator.Generate(genCtx, key, entity)
		if err == nil && d == nil {
			err = errors.New("generator returned no descriptor")
		}
		if err != nil {
			r.metrics.generated(false)
			if errors.Is(err, ErrGeneration) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrGeneration, key, err)
		}
		r.metrics.generated(true)
		r.cache.Store(key, d)
		return d, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Descriptor), nil
	}
}

// Cached reports whether key already has a descriptor.
func (r *ResourceRegistry) Cached(key ResourceKey) bool {
	_, ok := r.cache.Load(key)
	return ok
}

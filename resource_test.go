package shardroute

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func echoOperations() map[string]Operation {
	return map[string]Operation{
		"echo": func(_ context.Context, args ...any) (any, error) {
			return args, nil
		},
	}
}

func TestResourceRegistry_GeneratesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	release := make(chan struct{})
	reg := NewResourceRegistry(GeneratorFunc(func(_ context.Context, key ResourceKey, entity *Entity) (*Descriptor, error) {
		calls.Add(1)
		<-release
		return NewDescriptor(key, entity.Name, false, echoOperations()), nil
	}))
	entity := NewEntity("Order", ShardingRule{Datasources: []string{"ds-0"}}, nil)
	key := ResourceKey{Shard: "ds-0", Name: BuildName("ds-0", "Order")}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*Descriptor, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := reg.Resolve(context.Background(), key, entity)
			assert.NoError(t, err)
			results[i] = d
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, d := range results {
		assert.Same(t, results[0], d)
	}
	assert.True(t, reg.Cached(key))

	// served from the cache afterwards
	d, err := reg.Resolve(context.Background(), key, entity)
	require.NoError(t, err)
	assert.Same(t, results[0], d)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResourceRegistry_UnrelatedKeysInParallel(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan string, 2)
	release := make(chan struct{})
	reg := NewResourceRegistry(GeneratorFunc(func(_ context.Context, key ResourceKey, entity *Entity) (*Descriptor, error) {
		started <- key.Shard
		<-release
		return NewDescriptor(key, entity.Name, false, echoOperations()), nil
	}))
	entity := NewEntity("Order", ShardingRule{}, nil)

	var wg sync.WaitGroup
	for _, shard := range []string{"ds-0", "ds-1"} {
		wg.Add(1)
		go func(shard string) {
			defer wg.Done()
			_, err := reg.Resolve(context.Background(), ResourceKey{Shard: shard, Name: BuildName(shard, "Order")}, entity)
			assert.NoError(t, err)
		}(shard)
	}
	// both generations are in flight before either finishes
	got := []string{<-started, <-started}
	assert.ElementsMatch(t, []string{"ds-0", "ds-1"}, got)
	close(release)
	wg.Wait()
}

func TestResourceRegistry_CancelledCallerDoesNotFailOthers(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	reg := NewResourceRegistry(GeneratorFunc(func(ctx context.Context, key ResourceKey, entity *Entity) (*Descriptor, error) {
		calls.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewDescriptor(key, entity.Name, false, echoOperations()), nil
	}))
	entity := NewEntity("Order", ShardingRule{}, nil)
	key := ResourceKey{Shard: "ds-0", Name: "Orderds0"}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := reg.Resolve(ctx, key, entity)
		first <- err
	}()
	<-started

	second := make(chan *Descriptor, 1)
	go func() {
		d, err := reg.Resolve(context.Background(), key, entity)
		assert.NoError(t, err)
		second <- d
	}()
	time.Sleep(20 * time.Millisecond)

	// the cancelled caller returns without waiting for generation
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	d := <-second
	require.NotNil(t, d)
	assert.Equal(t, "Orderds0", d.Name)
	assert.True(t, reg.Cached(key))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResourceRegistry_KeysWithSeparator(t *testing.T) {
	defer goleak.VerifyNone(t)

	left := ResourceKey{Shard: "a/b", Name: "c"}
	right := ResourceKey{Shard: "a", Name: "b/c"}
	require.Equal(t, left.String(), right.String())
	assert.NotEqual(t, left.flightKey(), right.flightKey())

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	reg := NewResourceRegistry(GeneratorFunc(func(_ context.Context, key ResourceKey, entity *Entity) (*Descriptor, error) {
		started.Done()
		<-release
		return NewDescriptor(key, entity.Name, false, echoOperations()), nil
	}))
	entity := NewEntity("Order", ShardingRule{}, nil)

	var wg sync.WaitGroup
	results := make([]*Descriptor, 2)
	for i, key := range []ResourceKey{left, right} {
		wg.Add(1)
		go func(i int, key ResourceKey) {
			defer wg.Done()
			d, err := reg.Resolve(context.Background(), key, entity)
			assert.NoError(t, err)
			results[i] = d
		}(i, key)
	}
	// both generate, neither joins the other's flight
	started.Wait()
	close(release)
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, left, ResourceKey{Shard: results[0].Shard, Name: results[0].Name})
	assert.Equal(t, right, ResourceKey{Shard: results[1].Shard, Name: results[1].Name})
}

func TestResourceRegistry_FailureNotCached(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	reg := NewResourceRegistry(GeneratorFunc(func(_ context.Context, key ResourceKey, entity *Entity) (*Descriptor, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return NewDescriptor(key, entity.Name, false, echoOperations()), nil
	}))
	entity := NewEntity("Order", ShardingRule{}, nil)
	key := ResourceKey{Shard: "ds-0", Name: "Orderds0"}

	_, err := reg.Resolve(context.Background(), key, entity)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reg.Cached(key))

	d, err := reg.Resolve(context.Background(), key, entity)
	require.NoError(t, err)
	assert.Equal(t, "Orderds0", d.Name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResourceRegistry_NilDescriptor(t *testing.T) {
	reg := NewResourceRegistry(GeneratorFunc(func(context.Context, ResourceKey, *Entity) (*Descriptor, error) {
		return nil, nil
	}))
	_, err := reg.Resolve(context.Background(), ResourceKey{Shard: "ds-0", Name: "Orderds0"}, NewEntity("Order", ShardingRule{}, nil))
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestDescriptor_Operation(t *testing.T) {
	ops := echoOperations()
	d := NewDescriptor(ResourceKey{Shard: "ds-0", Name: "Orderds0"}, "Order", true, ops)
	// later changes to the source map do not leak in
	delete(ops, "echo")

	assert.Equal(t, []string{"echo"}, d.Operations())
	fn, err := d.Operation("echo")
	require.NoError(t, err)
	got, err := fn(context.Background(), "trade_order_2", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"trade_order_2", 1}, got)

	_, err = d.Operation("missing")
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

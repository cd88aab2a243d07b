package shardroute

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID     int64
	UserID int64 `sharding:"key"`
	Amount int64
}

type keyed struct {
	Name   string
	UserID Key
}

type pointerKeyed struct {
	UserID *int64 `sharding:"key,omitempty"`
}

func TestMarkerExtractor_Scan(t *testing.T) {
	userID := int64(42)
	tests := []struct {
		name string
		args []any
		want int64
	}{
		{"key argument", []any{"x", Key(130)}, 130},
		{"key pointer", []any{func() *Key { k := Key(7); return &k }()}, 7},
		{"tagged field", []any{order{ID: 1, UserID: 130}}, 130},
		{"tagged field behind pointer", []any{&order{UserID: 9}}, 9},
		{"key typed field", []any{keyed{Name: "a", UserID: 5}}, 5},
		{"pointer field", []any{pointerKeyed{UserID: &userID}}, 42},
		{"first match wins", []any{Key(1), Key(2)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEntity("Order", ShardingRule{}, nil)
			got, err := MarkerExtractor{}.ExtractKey(e, "op", tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarkerExtractor_Missing(t *testing.T) {
	e := NewEntity("Order", ShardingRule{}, nil)
	tests := []struct {
		name string
		args []any
	}{
		{"no args", nil},
		{"plain values", []any{int64(1), "x"}},
		{"nil pointer field", []any{pointerKeyed{}}},
		{"nil argument", []any{nil}},
		{"untagged struct", []any{struct{ UserID int64 }{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarkerExtractor{}.ExtractKey(e, "op", tt.args)
			assert.ErrorIs(t, err, ErrMissingShardingKey)
		})
	}
}

func TestMarkerExtractor_UnsupportedType(t *testing.T) {
	e := NewEntity("Order", ShardingRule{}, nil)
	_, err := MarkerExtractor{}.ExtractKey(e, "op", []any{struct {
		UserID string `sharding:"key"`
	}{"a"}})
	assert.ErrorIs(t, err, ErrMissingShardingKey)
}

func TestMarkerExtractor_Locator(t *testing.T) {
	e := NewEntity("Order", ShardingRule{}, map[string]KeyLocator{
		"findByUser": {Arg: 1},
		"insert":     {Arg: 0, Field: "ID"},
	})

	got, err := MarkerExtractor{}.ExtractKey(e, "findByUser", []any{"ignored", int64(77)})
	require.NoError(t, err)
	assert.Equal(t, int64(77), got)

	// the locator wins over the tagged field
	got, err = MarkerExtractor{}.ExtractKey(e, "insert", []any{order{ID: 3, UserID: 130}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	_, err = MarkerExtractor{}.ExtractKey(e, "findByUser", []any{"only one"})
	assert.ErrorIs(t, err, ErrMissingShardingKey)
}

func TestMarkerExtractor_SignatureCache(t *testing.T) {
	e := NewEntity("Order", ShardingRule{}, nil)
	k := Key(5)

	got, err := MarkerExtractor{}.ExtractKey(e, "op", []any{&k, Key(9)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	_, ok := e.signatures.Load(signature("op", []any{&k, Key(9)}))
	assert.True(t, ok)

	// nil at the cached position falls back to a full scan
	got, err = MarkerExtractor{}.ExtractKey(e, "op", []any{(*Key)(nil), Key(9)})
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)
}

// ownerFirst and ownerSecond return distinct types that print the same name.
func ownerFirst(userID, id int64) any {
	type account struct {
		UserID int64 `sharding:"key"`
		ID     int64
	}
	return account{UserID: userID, ID: id}
}

func ownerSecond(userID, id int64) any {
	type account struct {
		ID     int64
		UserID int64 `sharding:"key"`
	}
	return account{ID: id, UserID: userID}
}

func TestMarkerExtractor_SameNamedTypes(t *testing.T) {
	e := NewEntity("Order", ShardingRule{}, nil)
	first, second := ownerFirst(130, 7), ownerSecond(130, 7)
	require.Equal(t, fmt.Sprintf("%T", first), fmt.Sprintf("%T", second))

	got, err := MarkerExtractor{}.ExtractKey(e, "find", []any{first})
	require.NoError(t, err)
	assert.Equal(t, int64(130), got)

	got, err = MarkerExtractor{}.ExtractKey(e, "find", []any{second})
	require.NoError(t, err)
	assert.Equal(t, int64(130), got)

	// and back again through whatever the cache holds
	got, err = MarkerExtractor{}.ExtractKey(e, "find", []any{ownerFirst(131, 8)})
	require.NoError(t, err)
	assert.Equal(t, int64(131), got)
}

func TestSignature_QualifiesNamedTypes(t *testing.T) {
	k := Key(1)
	assert.Equal(t, "op(gorm/shardroute.Key,*gorm/shardroute.Key,int64,nil)",
		signature("op", []any{k, &k, int64(1), nil}))
}

func TestKey_Value(t *testing.T) {
	v, err := Key(12).Value()
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)
}

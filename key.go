package shardroute

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Key 分片键，作为参数传入时即为分片键载体
type Key int64

// Value implements driver.Valuer so a Key can be bound as a plain integer.
func (k Key) Value() (driver.Value, error) {
	return int64(k), nil
}

// keyTag marks a first-level struct field as the key carrier: `sharding:"key"`
const keyTag = "sharding"

var keyType = reflect.TypeOf(Key(0))

// KeyLocator pins the key to args[Arg], or to its first-level field Field.
type KeyLocator struct {
	Arg   int
	Field string
}

func (l KeyLocator) extract(args []any) (int64, bool, error) {
	if l.Arg < 0 || l.Arg >= len(args) {
		return 0, false, nil
	}
	v := reflect.ValueOf(args[l.Arg])
	if l.Field == "" {
		return toInt64(v)
	}
	v, ok := deref(v)
	if !ok || v.Kind() != reflect.Struct {
		return 0, false, nil
	}
	f := v.FieldByName(l.Field)
	if !f.IsValid() {
		return 0, false, nil
	}
	return toInt64(f)
}

// scanLocator a locator found by scanning, field < 0 means the argument itself.
// It only applies to arguments of exactly typ.
type scanLocator struct {
	arg   int
	field int
	typ   reflect.Type
}

func (l scanLocator) extract(args []any) (int64, bool, error) {
	if l.arg >= len(args) || reflect.TypeOf(args[l.arg]) != l.typ {
		return 0, false, nil
	}
	v := reflect.ValueOf(args[l.arg])
	if l.field < 0 {
		return toInt64(v)
	}
	v, ok := deref(v)
	if !ok || v.Kind() != reflect.Struct || l.field >= v.NumField() || !isKeyField(v.Type().Field(l.field)) {
		return 0, false, nil
	}
	return toInt64(v.Field(l.field))
}

// KeyExtractor pulls the sharding key out of a call's arguments.
type KeyExtractor interface {
	ExtractKey(entity *Entity, op string, args []any) (int64, error)
}

// MarkerExtractor uses the entity's registered locators first, then scans
// the arguments in order for a Key or a `sharding:"key"` field. The scan
// result is cached per call signature.
type MarkerExtractor struct{}

func (MarkerExtractor) ExtractKey(entity *Entity, op string, args []any) (int64, error) {
	if loc, ok := entity.locators[op]; ok {
		key, found, err := loc.extract(args)
		if err != nil {
			return 0, fmt.Errorf("%s.%s: %w", entity.Name, op, err)
		}
		if !found {
			return 0, fmt.Errorf("%w: %s.%s argument %d", ErrMissingShardingKey, entity.Name, op, loc.Arg)
		}
		return key, nil
	}

	sig := signature(op, args)
	if cached, ok := entity.signatures.Load(sig); ok {
		key, found, err := cached.(scanLocator).extract(args)
		if err != nil {
			return 0, fmt.Errorf("%s.%s: %w", entity.Name, op, err)
		}
		if found {
			return key, nil
		}
		// nil at the cached position or another type with the same
		// signature, fall through to a full scan
	}
	loc, key, err := scan(args)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: %w", entity.Name, op, err)
	}
	if loc == nil {
		return 0, fmt.Errorf("%w: %s.%s", ErrMissingShardingKey, entity.Name, op)
	}
	entity.signatures.LoadOrStore(sig, *loc)
	return key, nil
}

// scan 先从参数本身取，再从参数的成员取
func scan(args []any) (*scanLocator, int64, error) {
	for i, arg := range args {
		v := reflect.ValueOf(arg)
		if !v.IsValid() {
			continue
		}
		if isKeyType(v.Type()) {
			key, found, err := toInt64(v)
			if err != nil {
				return nil, 0, err
			}
			if found {
				return &scanLocator{arg: i, field: -1, typ: v.Type()}, key, nil
			}
			continue
		}
		sv, ok := deref(v)
		if !ok || sv.Kind() != reflect.Struct {
			continue
		}
		t := sv.Type()
		for j := 0; j < t.NumField(); j++ {
			f := t.Field(j)
			if !isKeyField(f) {
				continue
			}
			key, found, err := toInt64(sv.Field(j))
			if err != nil {
				return nil, 0, fmt.Errorf("field %s: %w", f.Name, err)
			}
			if found {
				return &scanLocator{arg: i, field: j, typ: v.Type()}, key, nil
			}
		}
	}
	return nil, 0, nil
}

func isKeyType(t reflect.Type) bool {
	return t == keyType || (t.Kind() == reflect.Ptr && t.Elem() == keyType)
}

func isKeyField(f reflect.StructField) bool {
	if isKeyType(f.Type) {
		return true
	}
	tag, ok := f.Tag.Lookup(keyTag)
	if !ok {
		return false
	}
	name, _, _ := strings.Cut(tag, ",")
	return name == "key"
}

func deref(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

// toInt64 仅支持整型分片键; nil pointers are reported as not found.
func toInt64(v reflect.Value) (int64, bool, error) {
	v, ok := deref(v)
	if !ok {
		return 0, false, nil
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, false, fmt.Errorf("%w: key %d overflows int64", ErrMissingShardingKey, u)
		}
		return int64(u), true, nil
	}
	return 0, false, fmt.Errorf("%w: unsupported key type %s", ErrMissingShardingKey, v.Type())
}

func signature(op string, args []any) string {
	var b strings.Builder
	b.WriteString(op)
	b.WriteByte('(')
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		if arg == nil {
			b.WriteString("nil")
			continue
		}
		writeType(&b, reflect.TypeOf(arg))
	}
	b.WriteByte(')')
	return b.String()
}

// writeType qualifies named types with their import path, String() only
// carries the package name.
func writeType(b *strings.Builder, t reflect.Type) {
	for t.Kind() == reflect.Ptr && t.Name() == "" {
		b.WriteByte('*')
		t = t.Elem()
	}
	if pkg := t.PkgPath(); pkg != "" && t.Name() != "" {
		b.WriteString(pkg)
		b.WriteByte('.')
		b.WriteString(t.Name())
		return
	}
	b.WriteString(t.String())
}

package str

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashcode(t *testing.T) {
	// values of java.lang.String#hashCode
	assert.Equal(t, int32(0), Hashcode(""))
	assert.Equal(t, int32(48), Hashcode("0"))
	assert.Equal(t, int32(48718), Hashcode("130"))
	assert.Equal(t, int32(99162322), Hashcode("hello"))
}

func TestHashMode(t *testing.T) {
	assert.Equal(t, 8, HashMode("130", 10))
	assert.Equal(t, 0, HashMode("", 7))
}

func TestConcat(t *testing.T) {
	assert.Equal(t, "ds-2", Concat("ds-", int64(2)))
	assert.Equal(t, "a1b2", Concat("a", 1, "b", 2.0))
	assert.Equal(t, "", Concat())
}

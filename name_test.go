package shardroute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildName(t *testing.T) {
	tests := []struct {
		shard, logical, want string
	}{
		{"ds-1", "Order", "Orderds1"},
		{"ds_1", "Order", "Orderds_1"},
		{"ds.east:2", "Order", "Orderdseast2"},
		{"$ds", "Order", "Order$ds"},
		{"--", "Order", "Order"},
		{"", "Order", "Order"},
	}
	for _, tt := range tests {
		t.Run(tt.shard, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildName(tt.shard, tt.logical))
		})
	}
}

func TestBuildName_Collision(t *testing.T) {
	assert.Equal(t, BuildName("ds-1", "Order"), BuildName("ds.1", "Order"))
	assert.NotEqual(t, BuildName("ds-1", "Order"), BuildName("ds-2", "Order"))
}

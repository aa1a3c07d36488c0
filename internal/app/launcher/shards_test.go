package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardGroups(t *testing.T) {
	tests := []struct {
		name       string
		shards     int
		perCluster int
		want       [][]int
	}{
		{name: "even split", shards: 4, perCluster: 2, want: [][]int{{0, 1}, {2, 3}}},
		{name: "last group short", shards: 5, perCluster: 2, want: [][]int{{0, 1}, {2, 3}, {4}}},
		{name: "single cluster", shards: 3, perCluster: 8, want: [][]int{{0, 1, 2}}},
		{name: "no shards", shards: 0, perCluster: 2, want: nil},
		{name: "bad group size", shards: 4, perCluster: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShardGroups(tt.shards, tt.perCluster))
		})
	}
}

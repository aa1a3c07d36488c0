package launcher

// ShardGroups reparte los shards [0, shardCount) en clusters de perCluster
// shards; el último puede quedar incompleto.
func ShardGroups(shardCount, perCluster int) [][]int {
	if shardCount <= 0 || perCluster <= 0 {
		return nil
	}
	groups := make([][]int, 0, (shardCount+perCluster-1)/perCluster)
	for start := 0; start < shardCount; start += perCluster {
		end := start + perCluster
		if end > shardCount {
			end = shardCount
		}
		group := make([]int, 0, end-start)
		for shard := start; shard < end; shard++ {
			group = append(group, shard)
		}
		groups = append(groups, group)
	}
	return groups
}

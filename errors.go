package shardroute

import "errors"

var (
	// ErrConfiguration malformed or missing shard configuration, fatal at startup
	ErrConfiguration = errors.New("sharding configuration error")
	// ErrRuleEvaluation rule expression failed to compile or evaluate
	ErrRuleEvaluation = errors.New("rule evaluation error")
	// ErrMissingShardingKey no call argument carries the sharding key
	ErrMissingShardingKey = errors.New("sharding key should not be null")
	// ErrUnknownShard resolved shard id has no registered datasource
	ErrUnknownShard = errors.New("unknown shard")
	// ErrUnknownOperation descriptor has no operation with the given name
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrGeneration shard resource descriptor could not be built
	ErrGeneration = errors.New("descriptor generation failed")
	// ErrIllegalEntity entity carries no sharding rule or is not registered
	ErrIllegalEntity = errors.New("illegal entity")
	// ErrShardingDisabled no datasource configured
	ErrShardingDisabled = errors.New("sharding disabled")
)

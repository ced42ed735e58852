package storage

// Persisted counter keys.
const (
	KeyTotalUsage        = "totalUsage"
	KeySessionUsage      = "sessionUsage"
	KeyBreakStart        = "breakStartTimestamp"
	KeyShortsCount       = "shortsCount"
	KeyLastReset         = "lastResetTimestamp"
	KeyLastChecked       = "lastCheckedTimestamp"
	KeyMilestonesAlerted = "sessionMilestonesAlerted"
)

// NumericKeys lists every key stored as decimal text.
var NumericKeys = []string{
	KeyTotalUsage,
	KeySessionUsage,
	KeyBreakStart,
	KeyShortsCount,
	KeyLastReset,
	KeyLastChecked,
}

// Type names accepted by storage.type in the configuration.
const (
	TypeBolt   = "bolt"
	TypeRedis  = "redis"
	TypeMemory = "memory"
)

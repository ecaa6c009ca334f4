package redis

import "strconv"

// Key prefixes for primary entity storage.
const (
	prefixRecord  = "flowbridge:rec:"  // hash: type, status, updated_at
	prefixMeta    = "flowbridge:meta:" // hash: meta key -> JSON value
	prefixRecheck = "flowbridge:rchk:" // JSON task, keyed by record id
	prefixDLQ     = "flowbridge:dlq:"
)

// Keys for options and sorted set indexes.
const (
	hOptions     = "flowbridge:options"
	zRecordAll   = "flowbridge:z:rec:all"    // score = record id
	zRecheckDue  = "flowbridge:z:rchk:due"   // member = record id, score = run_at
	zDLQAll      = "flowbridge:z:dlq:all"    // score = failed_at
	zDLQByRecord = "flowbridge:z:dlq:rec:"   // + record id
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

func recordKey(prefix string, recordID int64) string {
	return prefix + strconv.FormatInt(recordID, 10)
}

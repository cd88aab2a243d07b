package shardroute

import "strings"

// BuildName 统一的命名方式，涉及到映射、路由
//
// The shard id is appended to logicalName with every character outside
// [0-9a-zA-Z_$] removed. Ids that collide after sanitising share a name.
func BuildName(shardID, logicalName string) string {
	var b strings.Builder
	b.Grow(len(logicalName) + len(shardID))
	b.WriteString(logicalName)
	for _, c := range shardID {
		if (c >= '0' && c <= '9') ||
			(c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			c == '_' || c == '$' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

package str

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Hashcode 计算字符串的hashcode
func Hashcode(s string) int32 {
	var hash int32 = 0
	for _, c := range s {
		hash = c + ((hash << 5) - hash)
	}
	return hash
}

// HashMode 计算字符串的hashcode后取余
func HashMode(s string, num int32) int {
	hash := Hashcode(s)
	return int(math.Abs(float64(hash % num)))
}

// Concat joins the textual form of every value, integers in base 10.
func Concat(values ...any) string {
	var b strings.Builder
	for _, v := range values {
		switch t := v.(type) {
		case string:
			b.WriteString(t)
		case int64:
			b.WriteString(strconv.FormatInt(t, 10))
		case int:
			b.WriteString(strconv.Itoa(t))
		case float64:
			b.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
		default:
			fmt.Fprintf(&b, "%v", t)
		}
	}
	return b.String()
}

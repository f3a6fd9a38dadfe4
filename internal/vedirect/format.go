package vedirect

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// FormatBlock renders block as aligned key/value table for humans.
func FormatBlock(b Block) string {
	var sb strings.Builder
	sb.WriteString("--- VE.Direct Block ---\n")
	for _, k := range b.keys {
		v := b.fields[k]
		if !printable(v) {
			v = strconv.Quote(v)
		}
		fmt.Fprintf(&sb, "%-8s: %s\n", k, v)
	}
	return sb.String()
}

func printable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

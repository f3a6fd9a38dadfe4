package helpers

import (
	"fmt"
	"strings"
)

// HexDump formats data wireshark style: offset, 16 hex bytes, printable ascii.
func HexDump(data []byte, prefix string) string {
	var b strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		end := offset + 16
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		hexs := make([]string, len(chunk))
		ascii := make([]byte, len(chunk))
		for i, c := range chunk {
			hexs[i] = fmt.Sprintf("%02x", c)
			if c >= 32 && c < 127 {
				ascii[i] = c
			} else {
				ascii[i] = '.'
			}
		}
		fmt.Fprintf(&b, "%s%04x  %-48s  %s\n", prefix, offset, strings.Join(hexs, " "), ascii)
	}
	return b.String()
}

package checksum

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// SumString returns the hex-encoded xxHash64 digest of s without copying it.
func SumString(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}

package order

import (
	"encoding/base32"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NumberPrefix starts every order number.
const NumberPrefix = "LA"

// crockford is Crockford's base32 alphabet: no I, L, O or U, so numbers read
// back over the phone survive.
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// NewNumber returns a human-shareable order number: the prefix, the creation
// time in unix milliseconds and 8 random base32 characters (40 bits), e.g.
// LA1718031234567K3F9QX2M. Numbers sort by creation time across milliseconds.
func NewNumber(now time.Time) string {
	id := uuid.New()
	// Bytes 0..4 of a v4 UUID are fully random.
	suffix := crockford.EncodeToString(id[:5])
	return NumberPrefix + strconv.FormatInt(now.UnixMilli(), 10) + suffix
}

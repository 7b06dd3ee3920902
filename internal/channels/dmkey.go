package channels

import (
	"fmt"
	"unicode/utf16"
)

// Hash is the 32-bit string hash used to order DM participants. It multiplies
// by 31 over UTF-16 code units with int32 overflow, so names match the ones
// produced by the web client and the server.
func Hash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	return h
}

// DMKey orders two participants by descending hash. Equal hashes fall back to
// descending lexical order so the result never depends on argument order.
func DMKey(u1, u2 string) (high, low string) {
	h1, h2 := Hash(u1), Hash(u2)
	switch {
	case h1 > h2:
		return u1, u2
	case h1 < h2:
		return u2, u1
	case u1 >= u2:
		return u1, u2
	default:
		return u2, u1
	}
}

// DMChannelName returns the pairwise channel name for two users.
func DMChannelName(u1, u2 string) string {
	high, low := DMKey(u1, u2)
	return fmt.Sprintf("dm-%s-%s", high, low)
}

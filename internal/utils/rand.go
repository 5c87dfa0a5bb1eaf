package utils

import (
	"crypto/rand"
	"fmt"
)

// digits and upper-case letters without I and O
const base34Table = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// largest multiple of 34 that fits a byte, to keep the draw unbiased
const base34Cutoff = 255 - (256 % len(base34Table))

// RandBase34 generates a random base34 string of the given length
func RandBase34(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid length: %d", length)
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+1)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) > base34Cutoff {
				continue
			}
			out = append(out, base34Table[int(b)%len(base34Table)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

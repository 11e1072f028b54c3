// Package idgen provides pluggable ID generation for the harvesting service.
//
// Anything that mints identifiers (run IDs, telemetry stage tokens, event
// rows, stream IDs) takes a Generator, so the ID shape is a wiring decision
// made once at startup.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// Default is what callers get unless they wire something else: UUIDv7,
// time-sortable per RFC 9562.
var Default Generator = UUIDv7()

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// NanoID returns a Generator producing base-36 IDs of the given length,
// for spots where a UUID is too verbose (stage tokens, trace IDs).
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i, c := range buf {
			buf[i] = alphabet[int(c)%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed prepends a fixed prefix to every ID from gen ("run_", "stg_", "evt_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

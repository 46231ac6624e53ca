// ABOUTME: Per-session display alias generation from a hashed seed
// ABOUTME: Aliases are adjective+animal word pairs with a 4-digit suffix, non-identifying

// Package alias derives the temporary display names shown for a chat
// session. Aliases change with every session and carry no identity.
package alias

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

var adjectives = []string{
	"Silent", "Swift", "Dark", "Bright", "Hidden", "Quick", "Calm", "Wild",
	"Gentle", "Fierce", "Mystic", "Noble", "Clever", "Bold", "Shy", "Wise",
	"Ancient", "Modern", "Frozen", "Burning", "Crystal", "Shadow", "Golden",
	"Silver", "Cosmic", "Quantum", "Digital", "Phantom", "Stealth", "Ghost",
}

var animals = []string{
	"Fox", "Wolf", "Eagle", "Raven", "Tiger", "Lion", "Bear", "Hawk",
	"Owl", "Falcon", "Panther", "Leopard", "Lynx", "Coyote", "Badger",
	"Otter", "Seal", "Whale", "Shark", "Dolphin", "Phoenix", "Dragon",
	"Cobra", "Viper", "Spider", "Scorpion", "Mantis", "Beetle", "Moth",
}

// Generate derives an alias for a session. The wall clock and a random salt
// are mixed into the hash so the same key gets a fresh alias every session;
// the mapping from hash to words is deterministic.
func Generate(publicKey, sessionID string) string {
	seed := fmt.Sprintf("%s%s%s%d", publicKey, sessionID,
		time.Now().UTC().Format(time.RFC3339Nano), rand.Intn(1000000))
	return fromSeed([]byte(seed))
}

// fromSeed maps seed bytes to an alias. Split out so tests can pin the seed.
func fromSeed(seed []byte) string {
	sum := sha256.Sum256(seed)

	adj := adjectives[int(binary.BigEndian.Uint16(sum[0:2]))%len(adjectives)]
	animal := animals[int(binary.BigEndian.Uint16(sum[2:4]))%len(animals)]
	number := int(binary.BigEndian.Uint16(sum[4:6])) % 10000

	return fmt.Sprintf("%s%s%04d", adj, animal, number)
}

// Valid reports whether s looks like a generated alias: letters followed by
// exactly four digits, at least ten characters total.
func Valid(s string) bool {
	if len(s) < 10 {
		return false
	}

	digits := s[len(s)-4:]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}

	word := s[:len(s)-4]
	for _, c := range word {
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// Package roomname generates memorable room ids such as "sleepy-otter-harbor".
package roomname

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Generate returns a fresh adjective-animal-place room id. taken, when
// non-nil, rejects ids already in use; after a few collisions a number is
// appended.
func Generate(taken func(string) bool) string {
	for attempt := 0; ; attempt++ {
		parts := []string{pick(adjectives), pick(animals), pick(places)}
		if attempt >= 8 {
			parts = append(parts, big.NewInt(int64(randomIndex(9000)+1000)).String())
		}
		id := strings.Join(parts, "-")
		if taken == nil || !taken(id) {
			return id
		}
	}
}

func pick(words []string) string {
	return words[randomIndex(len(words))]
}

// randomIndex returns a uniformly random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("roomname: reading random source: " + err.Error())
	}
	return int(n.Int64())
}

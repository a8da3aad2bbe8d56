// Package code turns a relay slot and a pairing secret into a short code people can read out to
// each other, in the form "<slot>-<word>-<word>" with one word per secret byte
package code

import (
	_ "embed"
	"sort"
	"strconv"
	"strings"
)

//go:embed words.txt
var wordFile string

var (
	words   = strings.Fields(wordFile)
	indices = make(map[string]byte, len(words))
)

func init() {
	if len(words) != 256 {
		panic("code: word list must hold exactly 256 words, has " + strconv.Itoa(len(words)))
	}

	for i, w := range words {
		indices[w] = byte(i)
	}
}

// Encode returns the code for slot and secret. Decode(Encode(slot, secret)) gives back both values
// for any slot >= 0
func Encode(slot int, secret []byte) string {
	parts := make([]string, 0, len(secret)+1)
	parts = append(parts, strconv.Itoa(slot))

	for _, b := range secret {
		parts = append(parts, words[b])
	}

	return strings.Join(parts, "-")
}

// Decode parses a code. Case is ignored and words may be separated by dashes or spaces. The
// secret is empty when the code is malformed
func Decode(code string) (int, []byte) {
	fields := strings.FieldsFunc(strings.ToLower(code), func(r rune) bool {
		return r == '-' || r == ' ' || r == '\t'
	})
	if len(fields) < 2 {
		return 0, nil
	}

	slot, err := strconv.Atoi(fields[0])
	if err != nil || slot < 0 {
		return 0, nil
	}

	secret := make([]byte, 0, len(fields)-1)
	for _, f := range fields[1:] {
		b, ok := indices[f]
		if !ok {
			return 0, nil
		}
		secret = append(secret, b)
	}

	return slot, secret
}

// Match returns the known words starting with prefix, in alphabetical order
func Match(prefix string) []string {
	prefix = strings.ToLower(prefix)

	start := sort.SearchStrings(words, prefix)

	var matches []string
	for _, w := range words[start:] {
		if !strings.HasPrefix(w, prefix) {
			break
		}
		matches = append(matches, w)
	}

	return matches
}

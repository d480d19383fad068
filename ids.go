package main

import (
	"crypto/rand"
	"encoding/hex"
)

// newPlayerID issues an opaque, unguessable credential. Possession of the
// value authorizes requests, so it comes from crypto/rand.
func newPlayerID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// newGameID generates a crypto-random game ID, retrying until it doesn't
// collide with a tracked game.
func newGameID(taken func(string) bool) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if !taken(id) {
			return id
		}
	}
}

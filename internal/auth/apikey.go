package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const clientKeyBytes = 32

// ClientKey is a newly issued client key. Key is handed to the client once;
// Hash goes into the api.clients configuration.
type ClientKey struct {
	Key  string
	Hash string
}

// IssueClientKey generates a random 32-byte key, hex encoded, together with
// its bcrypt hash.
func IssueClientKey() (ClientKey, error) {
	b := make([]byte, clientKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return ClientKey{}, fmt.Errorf("generate client key: %w", err)
	}
	key := hex.EncodeToString(b)

	hash, err := HashKey(key)
	if err != nil {
		return ClientKey{}, err
	}
	return ClientKey{Key: key, Hash: hash}, nil
}

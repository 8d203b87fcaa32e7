package main

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
)

const _tokenHeader = "X-Auth-Token"

// GenerateRandomBytes returns securely generated random bytes.
// It will return an error if the system's secure random
// number generator fails to function correctly, in which
// case the caller should not continue.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateRandomToken returns a token of n characters plus dashes, and its hash for the config file
func GenerateRandomToken(n int) (token, hash string, err error) {
	b, err := GenerateRandomBytes(n / 2)
	if err != nil {
		return "", "", fmt.Errorf("error generating random bytes: %s", err)
	}
	x := fmt.Sprintf("%x", b)
	c := n / 3
	token = x[:c] + "-" + x[c:c*2] + "-" + x[c*2:]
	return token, HashToken(token), nil
}

func HashToken(token string) string {
	h := sha512.Sum512([]byte(token))
	return base64.StdEncoding.EncodeToString(h[:])
}

// authenticator accepts requests carrying a token whose hash is configured
type authenticator struct {
	hashes [][]byte
	public map[string]bool
}

func newAuthenticator(hashes []string, publicPaths ...string) *authenticator {
	a := &authenticator{public: make(map[string]bool)}
	for _, h := range hashes {
		a.hashes = append(a.hashes, []byte(h))
	}
	for _, p := range publicPaths {
		a.public[p] = true
	}
	return a
}

func (a *authenticator) valid(token string) bool {
	if token == "" {
		return false
	}
	hash := []byte(HashToken(token))
	for _, h := range a.hashes {
		if subtle.ConstantTimeCompare(hash, h) == 1 {
			return true
		}
	}
	return false
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get(_tokenHeader)
		if token == "" {
			// browsers cannot set headers on websocket and event stream requests
			token = r.URL.Query().Get("token")
		}
		if !a.valid(token) {
			HTTPResponseError(w, http.StatusUnauthorized, "missing or invalid ", _tokenHeader)
			return
		}
		next.ServeHTTP(w, r)
	})
}

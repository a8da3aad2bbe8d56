// Package pake derives a shared session key from a short secret over an untrusted channel and seals
// signaling messages with it. Messages on the wire are URL-safe base64
package pake

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/schollz/pake/v3"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24

	defaultCurve = "p256"

	// The side sending the first PAKE message
	roleStart = 0
	// The side answering it
	roleExchange = 1
)

var (
	ErrNotStarted = errors.New("pake round was not started")
	ErrOpen       = errors.New("message authentication failed")
)

type config struct {
	curve string
}

type Option func(*config)

// WithCurve selects the elliptic curve of the exchange. Both sides must use the same one
func WithCurve(curve string) Option {
	return func(cfg *config) {
		cfg.curve = curve
	}
}

// Session holds the state of one PAKE round. Start, Exchange and Finish are not safe for concurrent
// use, Seal and Open are
type Session struct {
	curve string
	state *pake.Pake
}

func New(opts ...Option) *Session {
	cfg := &config{curve: defaultCurve}

	for _, opt := range opts {
		opt(cfg)
	}

	return &Session{curve: cfg.curve}
}

// Start begins the round with secret and returns the first message
func (s *Session) Start(secret []byte) (msg string, err error) {
	defer recoverInto(&err)

	state, err := pake.InitCurve(clone(secret), roleStart, s.curve)
	if err != nil {
		return "", fmt.Errorf("init pake: %w", err)
	}
	s.state = state

	return base64.URLEncoding.EncodeToString(state.Bytes()), nil
}

// Exchange answers a first message with secret. It returns the session key and the reply for the
// starting side
func (s *Session) Exchange(secret []byte, msg string) (key []byte, reply string, err error) {
	defer recoverInto(&err)

	raw, err := base64.URLEncoding.DecodeString(msg)
	if err != nil {
		return nil, "", fmt.Errorf("decode pake message: %w", err)
	}

	state, err := pake.InitCurve(clone(secret), roleExchange, s.curve)
	if err != nil {
		return nil, "", fmt.Errorf("init pake: %w", err)
	}

	if errUpdate := state.Update(raw); errUpdate != nil {
		return nil, "", fmt.Errorf("process pake message: %w", errUpdate)
	}

	key, err = sessionKey(state)
	if err != nil {
		return nil, "", err
	}

	return key, base64.URLEncoding.EncodeToString(state.Bytes()), nil
}

// Finish completes a started round with the reply of the other side and returns the session key
func (s *Session) Finish(msg string) (key []byte, err error) {
	defer recoverInto(&err)

	if s.state == nil {
		return nil, ErrNotStarted
	}

	raw, err := base64.URLEncoding.DecodeString(msg)
	if err != nil {
		return nil, fmt.Errorf("decode pake message: %w", err)
	}

	if errUpdate := s.state.Update(raw); errUpdate != nil {
		return nil, fmt.Errorf("process pake message: %w", errUpdate)
	}

	key, err = sessionKey(s.state)
	s.state = nil
	return key, err
}

func (s *Session) Seal(key, plaintext []byte) (string, error) {
	return Seal(key, plaintext)
}

func (s *Session) Open(key []byte, ciphertext string) ([]byte, error) {
	return Open(key, ciphertext)
}

// Seal encrypts and authenticates plaintext under key. The random nonce is prepended to the box
func Seal(key, plaintext []byte) (string, error) {
	k, err := toKey(key)
	if err != nil {
		return "", err
	}

	var nonce [NonceSize]byte
	if _, errRead := io.ReadFull(rand.Reader, nonce[:]); errRead != nil {
		return "", fmt.Errorf("generate nonce: %w", errRead)
	}

	box := secretbox.Seal(nonce[:], plaintext, &nonce, k)

	return base64.URLEncoding.EncodeToString(box), nil
}

// Open reverses Seal. It fails with ErrOpen if the message was not sealed under key
func Open(key []byte, ciphertext string) ([]byte, error) {
	k, err := toKey(key)
	if err != nil {
		return nil, err
	}

	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	if len(raw) < NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: message too short", ErrOpen)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])

	plaintext, ok := secretbox.Open(nil, raw[NonceSize:], &nonce, k)
	if !ok {
		return nil, ErrOpen
	}

	return plaintext, nil
}

// sessionKey stretches the raw PAKE output into a secretbox key
func sessionKey(state *pake.Pake) ([]byte, error) {
	k, err := state.SessionKey()
	if err != nil {
		return nil, fmt.Errorf("pake session key: %w", err)
	}

	key := make([]byte, KeySize)
	if _, errRead := io.ReadFull(hkdf.New(sha256.New, k, nil, nil), key); errRead != nil {
		return nil, fmt.Errorf("derive key: %w", errRead)
	}

	return key, nil
}

func toKey(key []byte) (*[KeySize]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	var k [KeySize]byte
	copy(k[:], key)
	return &k, nil
}

// clone keeps the PAKE state independent from the caller's secret, which may be wiped
func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

// recoverInto turns panics of the curve arithmetic on malformed peer messages into errors
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("pake: %v", r)
	}
}

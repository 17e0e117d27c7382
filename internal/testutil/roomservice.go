package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// RoomService is an in-process stand-in for the room service. Its cipher is
// real secretbox encryption, so ciphertext is opaque to the code under test.
type RoomService struct {
	*httptest.Server

	key [32]byte

	mu           sync.Mutex
	failCreate   bool
	failEncrypt  bool
	failDecrypt  bool
	roomID       string
	decryptDelay func(plaintext string) time.Duration
	requestIDs   []string
	calls        map[string]int
}

func NewRoomService(t *testing.T) *RoomService {
	s := &RoomService{calls: make(map[string]int)}
	if _, err := io.ReadFull(rand.Reader, s.key[:]); err != nil {
		t.Fatalf("generate key: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /create-room", s.createRoom)
	mux.HandleFunc("POST /encrypt", s.encrypt)
	mux.HandleFunc("POST /decrypt", s.decrypt)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)
	return s
}

// SetFailures makes the given endpoints answer 500.
func (s *RoomService) SetFailures(create, encrypt, decrypt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate, s.failEncrypt, s.failDecrypt = create, encrypt, decrypt
}

// SetRoomID fixes the identifier returned by create-room.
func (s *RoomService) SetRoomID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = id
}

// SetDecryptDelay delays each decrypt response by f(plaintext).
func (s *RoomService) SetDecryptDelay(f func(plaintext string) time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decryptDelay = f
}

func (s *RoomService) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *RoomService) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestIDs...)
}

func (s *RoomService) Seal(plaintext string) string {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		panic(err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(box)
}

func (s *RoomService) Open(ciphertext string) (string, error) {
	box, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(box) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	out, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errors.New("decryption failed")
	}
	return string(out), nil
}

func (s *RoomService) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[r.URL.Path]++
	if id := r.Header.Get("X-Request-Id"); id != "" {
		s.requestIDs = append(s.requestIDs, id)
	}
}

func (s *RoomService) failing(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch path {
	case "/create-room":
		return s.failCreate
	case "/encrypt":
		return s.failEncrypt
	case "/decrypt":
		return s.failDecrypt
	}
	return false
}

func randomLetters(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + mrand.Intn(26))
	}
	return string(b)
}

// NewRoomID returns a well-formed room identifier.
func NewRoomID() string {
	return fmt.Sprintf("%s-%s-%s?hs=%d", randomLetters(3), randomLetters(4), randomLetters(3), 100+mrand.Intn(900))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *RoomService) createRoom(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	if s.failing(r.URL.Path) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	id := s.roomID
	s.mu.Unlock()
	if id == "" {
		id = NewRoomID()
	}

	writeJSON(w, map[string]string{"roomID": id})
}

type messageBody struct {
	Message string `json:"message"`
}

func (s *RoomService) encrypt(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	if s.failing(r.URL.Path) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]string{"encrypted": s.Seal(body.Message)})
}

func (s *RoomService) decrypt(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	if s.failing(r.URL.Path) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	plaintext, err := s.Open(body.Message)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	delay := s.decryptDelay
	s.mu.Unlock()
	if delay != nil {
		select {
		case <-time.After(delay(plaintext)):
		case <-r.Context().Done():
			return
		}
	}

	writeJSON(w, map[string]string{"decrypted": plaintext})
}

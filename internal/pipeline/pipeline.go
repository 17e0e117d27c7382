// Package pipeline turns outbound plaintext into ciphertext and inbound
// ciphertext back into plaintext through an external cipher service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/npezzotti/roomchat/internal/types"
)

// Ciphertext is opaque and never interpreted by the session.
type Ciphertext string

// Cipher is the external collaborator that performs the actual transformation.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

var errEmptyResponse = errors.New("empty response")

// Pipeline is stateless and safe for concurrent use.
type Pipeline struct {
	cipher Cipher
}

func New(c Cipher) *Pipeline {
	return &Pipeline{cipher: c}
}

// Encode fails with types.ErrCipherUnavailable if the collaborator cannot be
// reached or rejects the request.
func (p *Pipeline) Encode(ctx context.Context, plaintext string) (Ciphertext, error) {
	out, err := p.cipher.Encrypt(ctx, plaintext)
	if err != nil {
		return "", fmt.Errorf("encode: %w: %w", types.ErrCipherUnavailable, err)
	}
	if out == "" {
		return "", fmt.Errorf("encode: %w: %w", types.ErrCipherUnavailable, errEmptyResponse)
	}

	return Ciphertext(out), nil
}

func (p *Pipeline) Decode(ctx context.Context, c Ciphertext) (string, error) {
	out, err := p.cipher.Decrypt(ctx, string(c))
	if err != nil {
		return "", fmt.Errorf("decode: %w: %w", types.ErrCipherUnavailable, err)
	}
	if out == "" {
		return "", fmt.Errorf("decode: %w: %w", types.ErrCipherUnavailable, errEmptyResponse)
	}

	return out, nil
}

// DecodeCount decodes an occupancy update carried as an encrypted integer.
func (p *Pipeline) DecodeCount(ctx context.Context, c Ciphertext) (int, error) {
	s, err := p.Decode(ctx, c)
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("decode count: negative value %d", n)
	}

	return n, nil
}

package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCipher struct {
	mock.Mock
}

func (m *MockCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	args := m.Called(ctx, plaintext)
	return args.String(0), args.Error(1)
}

func (m *MockCipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	args := m.Called(ctx, ciphertext)
	return args.String(0), args.Error(1)
}

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
// Each +1 doubles the hashing time; 12 is roughly 250ms on current hardware.
const DefaultCost = 12

// ErrInvalidPassword is returned by Verify when the password does not match.
var ErrInvalidPassword = errors.New("auth: invalid password")

// PasswordService hashes and verifies passwords with bcrypt.
type PasswordService struct {
	cost int
}

// NewPasswordService returns a PasswordService with the given bcrypt cost.
// Costs outside bcrypt's range fall back to DefaultCost. Tests pass
// bcrypt.MinCost to keep hashing fast.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt hash of plaintext. The salt is generated
// internally and stored inside the hash string.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	// bcrypt silently ignores everything past 72 bytes.
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks plaintext against hash. A mismatch returns ErrInvalidPassword.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

package account

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/compte-engine/banking"
)

// Credentials are issued to a client created together with its first
// account. Password and Code are plaintext and only handed to the notifier.
type Credentials struct {
	Password     string
	PasswordHash string
	Code         string
}

type CredentialIssuer interface {
	Issue() (Credentials, error)
}

// CredentialNotifier delivers credentials to the client (email, SMS...).
// Delivery is outside the engine.
type CredentialNotifier interface {
	CredentialsIssued(ctx context.Context, client *banking.Client, creds Credentials) error
}

const (
	passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%&*"
	codeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

type BcryptIssuer struct {
	Cost           int
	PasswordLength int
	CodeLength     int
}

var _ CredentialIssuer = BcryptIssuer{}

// NewBcryptIssuer fills zero values with bcrypt.DefaultCost, 12 and 8.
func NewBcryptIssuer(cost, passwordLength, codeLength int) BcryptIssuer {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if passwordLength == 0 {
		passwordLength = 12
	}
	if codeLength == 0 {
		codeLength = 8
	}
	return BcryptIssuer{Cost: cost, PasswordLength: passwordLength, CodeLength: codeLength}
}

func (b BcryptIssuer) Issue() (Credentials, error) {
	password, err := randomString(passwordAlphabet, b.PasswordLength)
	if err != nil {
		return Credentials{}, err
	}
	code, err := randomString(codeAlphabet, b.CodeLength)
	if err != nil {
		return Credentials{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return Credentials{}, fmt.Errorf("hash password: %w", err)
	}
	return Credentials{Password: password, PasswordHash: string(hash), Code: code}, nil
}

// VerifyPassword checks a plaintext password against a stored hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func randomString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate credential: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// LogNotifier records that credentials were issued without their content.
type LogNotifier struct{}

func (LogNotifier) CredentialsIssued(_ context.Context, client *banking.Client, _ Credentials) error {
	zap.L().Info("Client credentials issued",
		zap.String("client_id", client.ID),
		zap.Bool("has_email", client.Email != ""),
		zap.Bool("has_phone", client.Phone != ""))
	return nil
}

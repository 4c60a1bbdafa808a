package oauth

import (
	"crypto/ecdsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"token-refresher/internal/common/errors"
)

const (
	appleTokenURL = "https://appleid.apple.com/auth/token"
	appleAudience = "https://appleid.apple.com"

	// appleSecretLifetime is the validity window of a minted client secret.
	// Apple allows up to six months; a short window keeps a leaked secret
	// nearly worthless.
	appleSecretLifetime = 5 * time.Minute
)

// AppleConfig holds the Sign in with Apple credentials. Apple does not issue
// a static client secret: each token request carries an ES256 JWT signed
// with the developer's private key.
type AppleConfig struct {
	ClientID   string // Services ID, used as both client_id and JWT subject
	TeamID     string // Apple Developer team, JWT issuer
	KeyID      string // identifies the signing key, JWT kid header
	PrivateKey string // PEM-encoded ECDSA P-256 private key
}

// NewApple creates an adapter for Apple's token endpoint. The private key is
// parsed once; a fresh client-secret JWT is minted per exchange.
func NewApple(cfg AppleConfig, opts Options) (*Adapter, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, errors.ConfigError("APPLE_PRIVATE_KEY is not a valid ECDSA PEM key: " + err.Error())
	}

	endpoint := oauth2.Endpoint{
		TokenURL:  appleTokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}

	secret := appleSecret(cfg, key)
	return NewAdapter(ProviderApple, cfg.ClientID, secret, endpoint, opts), nil
}

func appleSecret(cfg AppleConfig, key *ecdsa.PrivateKey) SecretFunc {
	return func() (string, error) {
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
			"iss": cfg.TeamID,
			"iat": now.Unix(),
			"exp": now.Add(appleSecretLifetime).Unix(),
			"aud": appleAudience,
			"sub": cfg.ClientID,
		})
		token.Header["kid"] = cfg.KeyID

		signed, err := token.SignedString(key)
		if err != nil {
			return "", errors.InternalError("failed to sign apple client secret", err)
		}
		return signed, nil
	}
}

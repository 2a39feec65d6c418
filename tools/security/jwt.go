package security

import (
	"fmt"
	"strings"
	"time"

	"QRGate/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signing algorithm and token lifetime.
type Options struct {
	Secret []byte        // HMAC key, from ENV/KMS in production
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token lifetime (default 24h)
}

const defaultTTL = 24 * time.Hour

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: defaultTTL}
}

// AuthClaims is the assertion payload bound to a claimed session: subject
// identity, external teacher id, tenant memberships and subject type.
type AuthClaims struct {
	UserID     string   `json:"userId"`
	TeacherID  string   `json:"teacherId,omitempty"`
	Email      string   `json:"email,omitempty"`
	CompanyIDs []string `json:"companyIds,omitempty"`
	UserType   string   `json:"userType"`
	SessionID  string   `json:"sessionId,omitempty"`
	jwtlib.RegisteredClaims
}

func Generate(opts Options, claims AuthClaims) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if len(opts.Secret) == 0 {
		return "", time.Time{}, errs.New("signing secret is not configured")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims.IssuedAt = jwtlib.NewNumericDate(now)
	claims.NotBefore = jwtlib.NewNumericDate(now)
	claims.ExpiresAt = jwtlib.NewNumericDate(exp)
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify fails closed: any signature mismatch, wrong algorithm, malformed
// structure or elapsed lifetime yields ErrTokenInvalid with no partial claims.
func Verify(opts Options, token string) (*AuthClaims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	claims := &AuthClaims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims,
		func(t *jwtlib.Token) (interface{}, error) { return opts.Secret, nil },
		// pin the token to the configured algorithm; a token signed with any
		// other method is rejected before the signature check
		jwtlib.WithValidMethods([]string{method.Alg()}))
	if err != nil {
		return nil, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return nil, errs.ErrTokenInvalid.Wrap()
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}

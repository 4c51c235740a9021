package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
)

const audience = "Campus Portal"

var (
	NowFunc = time.Now // mockable

	ErrRefreshExpired = errors.New("refresh has expired")
	ErrInvalidToken   = errors.New("invalid or expired jwt")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	IsStudent    bool   `json:"is_student,omitempty"`  // -> STUDENT PORTAL
	IsLecturer   bool   `json:"is_lecturer,omitempty"` // -> LECTURER PORTAL
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	appName       string
	key           []byte
	expiry        time.Duration
	refreshExpiry time.Duration
}

var _ identity.SessionIssuer = (*Issuer)(nil)

func NewIssuer(conf *core.Config) *Issuer {
	return &Issuer{
		appName:       conf.AppName,
		key:           []byte(conf.SecretKey),
		expiry:        conf.Server.JWTExpirationDelta,
		refreshExpiry: conf.Server.JWTRefreshExpirationDelta,
	}
}

// SigningMethod is the algorithm tokens are signed with.
func (iss *Issuer) SigningMethod() string { return jwt.SigningMethodHS256.Alg() }

func (iss *Issuer) Claims(cred identity.Credential, origIat ...int64) *Claims {
	now := NowFunc()

	oriat := now.Unix()
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.appName,
			Subject:   cred.ID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(iss.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OrigIssuedAt: oriat,
		Name:         cred.Name,
		Email:        cred.Email,
		Role:         string(cred.Role),
		IsStudent:    cred.IsStudent(),
		IsLecturer:   cred.IsLecturer(),
	}
}

// Sign generates a signed JWT token string representing the Claims.
func (iss *Issuer) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(iss.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (iss *Issuer) Issue(cred identity.Credential) (identity.Session, error) {
	return iss.issue(cred, iss.Claims(cred))
}

func (iss *Issuer) issue(cred identity.Credential, claims *Claims) (identity.Session, error) {
	token, err := iss.Sign(claims)
	if err != nil {
		return identity.Session{}, err
	}
	return identity.Session{
		Token:      token,
		ExpiresAt:  claims.ExpiresAt.Time,
		Credential: cred,
	}, nil
}

// Refresh issues a new token keeping the original issue time.
// It fails once the refresh window opened at the first sign in is over.
func (iss *Issuer) Refresh(claims Claims, cred identity.Credential) (identity.Session, error) {
	if !cred.IsActive {
		return identity.Session{}, identity.ErrAccountDeactivated
	}
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(iss.refreshExpiry)
	if NowFunc().After(expTime) {
		return identity.Session{}, ErrRefreshExpired
	}
	return iss.issue(cred, iss.Claims(cred, claims.OrigIssuedAt))
}

// Parse verifies a signed token and returns its Claims.
func (iss *Issuer) Parse(token string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(*jwt.Token) (interface{}, error) { return iss.key, nil },
		jwt.WithValidMethods([]string{iss.SigningMethod()}),
		jwt.WithIssuer(iss.appName),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(NowFunc),
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	return claims, nil
}

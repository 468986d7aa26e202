// Package token mints access tokens for the real-time media service.
//
// Tokens are HS256 JWTs in the LiveKit access-token layout: the API key is the
// issuer, the participant identity is the subject and a "video" grant scopes
// the token to one room.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = time.Hour

var (
	// ErrNotConfigured is returned when the service URL, API key or secret
	// is missing.
	ErrNotConfigured = errors.New("token: LiveKit configuration missing")

	// ErrMissingField is returned when the room or participant name is empty.
	ErrMissingField = errors.New("token: room name and participant name are required")
)

// VideoGrant scopes a token to a room.
type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name,omitempty"`
	Video VideoGrant `json:"video"`
}

// Grant is an issued token together with the URL it is valid for.
type Grant struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Issuer signs tokens with a shared API secret.
type Issuer struct {
	apiKey string
	secret string
	url    string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A non-positive ttl selects [DefaultTTL].
// Missing credentials are reported by [Issuer.Issue], not here, so the
// service can start without them.
func NewIssuer(apiKey, secret, url string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{apiKey: apiKey, secret: secret, url: url, ttl: ttl, now: time.Now}
}

// Configured reports whether the issuer has everything it needs to sign.
func (i *Issuer) Configured() bool {
	return i != nil && i.apiKey != "" && i.secret != "" && i.url != ""
}

// URL returns the media service URL tokens are issued for.
func (i *Issuer) URL() string {
	return i.url
}

// Issue mints a token that lets participant join, publish and subscribe in
// room.
func (i *Issuer) Issue(room, participant string) (Grant, error) {
	if room == "" || participant == "" {
		return Grant{}, ErrMissingField
	}
	if !i.Configured() {
		return Grant{}, ErrNotConfigured
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   participant,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: participant,
		Video: VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.secret))
	if err != nil {
		return Grant{}, fmt.Errorf("token: sign: %w", err)
	}
	return Grant{Token: signed, URL: i.url}, nil
}

// Credential mints a token and returns the URL and signed token, the pair a
// channel dialer needs.
func (i *Issuer) Credential(room, participant string) (url, credential string, err error) {
	g, err := i.Issue(room, participant)
	if err != nil {
		return "", "", err
	}
	return g.URL, g.Token, nil
}

// Verify parses and validates a token signed with secret.
func Verify(signed, secret string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token: verify: %w", err)
	}
	return &claims, nil
}

// Package identity extracts the user claims carried by a connection token.
//
// The chat core only consumes a decoded identity. Whether the token's signature
// is trusted is decided by which Decoder the server is wired with.
package identity

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidToken is returned when a token cannot be parsed or verified.
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrMissingClaims is returned when a token parses but carries no user id.
	ErrMissingClaims = errors.New("identity: missing user id claim")
)

// Identity is the set of user claims the chat server needs.
type Identity struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
}

// DisplayName is "First Last", falling back to the username when both name
// claims are empty.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(i.FirstName + " " + i.LastName)
	if name == "" {
		return i.Username
	}
	return name
}

// Decoder turns an opaque token into an Identity.
type Decoder interface {
	Decode(token string) (Identity, error)
}

// UnverifiedDecoder reads JWT claims without checking the signature.
type UnverifiedDecoder struct {
	parser *jwt.Parser
}

// NewUnverifiedDecoder creates a decoder that trusts whatever the token says.
func NewUnverifiedDecoder() *UnverifiedDecoder {
	return &UnverifiedDecoder{parser: jwt.NewParser()}
}

// Decode implements Decoder.
func (d *UnverifiedDecoder) Decode(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := d.parser.ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return Identity{}, errors.Wrapf(ErrInvalidToken, "parse unverified: %v", err)
	}
	return fromClaims(claims)
}

// HMACDecoder verifies HS256/HS384/HS512 signatures before reading claims.
type HMACDecoder struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACDecoder creates a decoder that only accepts tokens signed with secret.
func NewHMACDecoder(secret []byte) *HMACDecoder {
	return &HMACDecoder{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}
}

// Decode implements Decoder.
func (d *HMACDecoder) Decode(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	parsed, err := d.parser.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return d.secret, nil
	})
	if err != nil {
		return Identity{}, errors.Wrapf(ErrInvalidToken, "verify: %v", err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	return fromClaims(claims)
}

func fromClaims(claims jwt.MapClaims) (Identity, error) {
	id := claimString(claims["id"])
	if id == "" {
		if sub, err := claims.GetSubject(); err == nil {
			id = sub
		}
	}
	if id == "" {
		return Identity{}, ErrMissingClaims
	}

	return Identity{
		ID:        id,
		Username:  claimString(claims["username"]),
		FirstName: claimString(claims["firstName"]),
		LastName:  claimString(claims["lastName"]),
	}, nil
}

// claimString flattens the JSON scalar types a claim may use into a string.
// Numeric ids are common, so 2 and "2" decode to the same user.
func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

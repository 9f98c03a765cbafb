// Package signedrequest parses and generates signed requests, the compact
// HMAC-SHA256 authenticated tokens a host platform hands to an embedded
// application to pass verified user and page context without a round trip.
//
// Wire format:
//
//	base64url(HMAC-SHA256(secret, payloadSegment)) "." base64url(json payload)
//
// The signature covers the raw payload segment exactly as transmitted, so the
// payload is generated with a fixed key order and compact separators.
package signedrequest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Algorithm is the only signing algorithm accepted.
const Algorithm = "HMAC-SHA256"

// AgeUnbounded is the upper age bound used when the payload only carries a
// minimum age.
const AgeUnbounded = 99

// SignedRequest is the decoded content of a signed request.
type SignedRequest struct {
	// UserID is the id of the user, empty if the user has not authorized the application.
	UserID string

	// IssuedAt is when the request was issued. Zero and the Unix epoch both
	// mean absent.
	IssuedAt time.Time

	// ExpiresAt is when OAuthToken expires. Zero means it never expires.
	ExpiresAt time.Time

	// OAuthToken is the user's access token, empty if not authorized.
	OAuthToken string

	// AppData is the app_data value passed through the page tab URL.
	AppData json.RawMessage

	// Page is set when the application is loaded in a page tab.
	Page *Page

	// User carries locale, country and age information.
	User *User

	// Payload is the full decoded payload. It is ignored by Generate.
	Payload map[string]any
}

// Page describes the page hosting a page tab application.
type Page struct {
	ID    string
	Liked bool
	Admin bool
}

// User describes the viewing user.
type User struct {
	Locale  string
	Country string
	Age     *AgeRange
}

// AgeRange is an inclusive age bracket.
type AgeRange struct {
	Min int
	Max int
}

// OAuthToken is a structured view of the token fields of a signed request.
type OAuthToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token expired before now.
func (t *OAuthToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// AccessToken returns the token fields as an OAuthToken, or nil when the
// request carries no token.
func (sr *SignedRequest) AccessToken() *OAuthToken {
	if sr.OAuthToken == "" {
		return nil
	}
	return &OAuthToken{
		Token:     sr.OAuthToken,
		IssuedAt:  sr.IssuedAt,
		ExpiresAt: sr.ExpiresAt,
	}
}

// Authorized reports whether the user has authorized the application.
func (sr *SignedRequest) Authorized() bool {
	return sr.OAuthToken != ""
}

// Parse verifies a signed request with the application secret and decodes it.
// All failures are *apierr.Error values of kind token.
func Parse(signedRequest, secret string) (*SignedRequest, error) {
	parts := strings.Split(signedRequest, ".")
	if len(parts) != 2 {
		return nil, apierr.Token("signed request must have exactly two segments, got %d", len(parts))
	}
	encodedSignature, encodedPayload := parts[0], parts[1]

	signature, err := decodeSegment(encodedSignature)
	if err != nil {
		return nil, tokenError("decode signature", err)
	}

	payload, err := decodeSegment(encodedPayload)
	if err != nil {
		return nil, tokenError("decode payload", err)
	}

	if !gjson.ValidBytes(payload) {
		return nil, apierr.Token("payload is not valid JSON")
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, apierr.Token("payload is not a JSON object")
	}

	algorithm := root.Get("algorithm")
	if !algorithm.Exists() {
		return nil, apierr.Token("payload has no algorithm")
	}
	if !strings.EqualFold(algorithm.String(), Algorithm) {
		return nil, apierr.Token("unsupported algorithm %q", algorithm.String())
	}

	if !hmac.Equal(sign([]byte(encodedPayload), secret), signature) {
		return nil, apierr.Token("signature mismatch")
	}

	return fromPayload(root), nil
}

// Generate encodes and signs sr with the application secret.
func Generate(sr *SignedRequest, secret string) (string, error) {
	payload, err := sr.marshalPayload()
	if err != nil {
		return "", err
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	signature := sign([]byte(encodedPayload), secret)

	return base64.RawURLEncoding.EncodeToString(signature) + "." + encodedPayload, nil
}

// marshalPayload builds the compact payload with keys in a fixed order.
func (sr *SignedRequest) marshalPayload() ([]byte, error) {
	var err error
	payload := []byte(`{}`)
	set := func(path string, value any) {
		if err == nil {
			payload, err = sjson.SetBytes(payload, path, value)
		}
	}
	setRaw := func(path string, value []byte) {
		if err == nil {
			payload, err = sjson.SetRawBytes(payload, path, value)
		}
	}

	set("algorithm", Algorithm)
	if sr.UserID != "" {
		set("user_id", sr.UserID)
	}
	if issuedAt := unixOrZero(sr.IssuedAt); issuedAt != 0 {
		set("issued_at", issuedAt)
	}
	if sr.OAuthToken != "" || unixOrZero(sr.ExpiresAt) != 0 {
		set("expires", unixOrZero(sr.ExpiresAt))
	}
	if sr.OAuthToken != "" {
		set("oauth_token", sr.OAuthToken)
	}
	if len(sr.AppData) > 0 {
		var compact bytes.Buffer
		if cerr := json.Compact(&compact, sr.AppData); cerr != nil {
			return nil, fmt.Errorf("compact app_data: %w", cerr)
		}
		setRaw("app_data", compact.Bytes())
	}
	if sr.Page != nil {
		set("page.id", sr.Page.ID)
		set("page.liked", sr.Page.Liked)
		set("page.admin", sr.Page.Admin)
	}
	if sr.User != nil {
		setRaw("user", []byte(`{}`))
		if sr.User.Locale != "" {
			set("user.locale", sr.User.Locale)
		}
		if sr.User.Country != "" {
			set("user.country", sr.User.Country)
		}
		if age := sr.User.Age; age != nil {
			set("user.age.min", age.Min)
			if age.Max != AgeUnbounded {
				set("user.age.max", age.Max)
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}
	return payload, nil
}

// fromPayload maps a verified payload onto a SignedRequest.
func fromPayload(root gjson.Result) *SignedRequest {
	sr := &SignedRequest{}
	if m, ok := root.Value().(map[string]any); ok {
		sr.Payload = m
	}

	if v := root.Get("user_id"); v.Exists() {
		sr.UserID = v.String()
	}
	if v := root.Get("issued_at"); v.Exists() && v.Int() != 0 {
		sr.IssuedAt = time.Unix(v.Int(), 0)
	}
	if v := root.Get("expires"); v.Exists() && v.Int() != 0 {
		sr.ExpiresAt = time.Unix(v.Int(), 0)
	}
	if v := root.Get("oauth_token"); v.Exists() {
		sr.OAuthToken = v.String()
	}
	if v := root.Get("app_data"); v.Exists() {
		sr.AppData = json.RawMessage(v.Raw)
	}

	if page := root.Get("page"); page.IsObject() {
		sr.Page = &Page{
			ID:    page.Get("id").String(),
			Liked: page.Get("liked").Bool(),
			Admin: page.Get("admin").Bool(),
		}
	}

	if user := root.Get("user"); user.IsObject() {
		sr.User = &User{
			Locale:  user.Get("locale").String(),
			Country: user.Get("country").String(),
		}
		if age := user.Get("age"); age.IsObject() {
			sr.User.Age = &AgeRange{Min: int(age.Get("min").Int()), Max: AgeUnbounded}
			if upper := age.Get("max"); upper.Exists() {
				sr.User.Age.Max = int(upper.Int())
			}
		}
	}

	return sr
}

func sign(message []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return mac.Sum(nil)
}

// decodeSegment decodes base64url, tolerating missing padding.
func decodeSegment(segment string) ([]byte, error) {
	if rem := len(segment) % 4; rem != 0 {
		segment += strings.Repeat("=", 4-rem)
	}
	return base64.URLEncoding.Strict().DecodeString(segment)
}

func tokenError(op string, err error) *apierr.Error {
	e := apierr.Token("%s", op)
	e.Err = err
	return e
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

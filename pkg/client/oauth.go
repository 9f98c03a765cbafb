package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
)

const accessTokenPath = "oauth/access_token"

// ExtendedAccessToken exchanges a short-lived user access token for a
// long-lived one. Expiry is zero when the server reports none.
func (c *Client) ExtendedAccessToken(ctx context.Context, accessToken, appID, appSecret string) (*oauth2.Token, error) {
	body, err := c.tokenRequest(ctx, Params{
		"client_id":         appID,
		"client_secret":     appSecret,
		"grant_type":        "fb_exchange_token",
		"fb_exchange_token": accessToken,
	})
	if err != nil {
		return nil, err
	}

	fields, err := tokenFields(body)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken: fields.accessToken,
		TokenType:   fields.tokenType,
	}
	if fields.expiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(fields.expiresIn) * time.Second)
	}

	c.logger.Debug().
		Time("expiry", token.Expiry).
		Msg("Access token extended")
	return token, nil
}

// ApplicationAccessToken obtains an app access token with the client
// credentials grant.
func (c *Client) ApplicationAccessToken(ctx context.Context, appID, appSecret string) (string, error) {
	body, err := c.tokenRequest(ctx, Params{
		"client_id":     appID,
		"client_secret": appSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", err
	}

	fields, err := tokenFields(body)
	if err != nil {
		return "", err
	}
	return fields.accessToken, nil
}

// tokenRequest issues an uncredentialed GET to the token endpoint.
func (c *Client) tokenRequest(ctx context.Context, params Params) (any, error) {
	req := &Request{Method: http.MethodGet, Path: accessTokenPath, Params: params, anonymous: true}
	resp, err := c.withRetry(ctx, c.config.MaxRetries, func() (*Response, error) {
		return c.Execute(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type accessTokenFields struct {
	accessToken string
	tokenType   string
	expiresIn   int64
}

// tokenFields reads a token response, either JSON or urlencoded
// (access_token=...&expires=...).
func tokenFields(body any) (accessTokenFields, error) {
	var fields accessTokenFields

	switch v := body.(type) {
	case map[string]any:
		fields.accessToken, _ = v["access_token"].(string)
		fields.tokenType, _ = v["token_type"].(string)
		fields.expiresIn = seconds(v["expires_in"])
	case string:
		values, err := url.ParseQuery(v)
		if err != nil {
			return fields, apierr.Remote("No access token given", 0)
		}
		fields.accessToken = values.Get("access_token")
		fields.tokenType = values.Get("token_type")
		fields.expiresIn, _ = strconv.ParseInt(values.Get("expires"), 10, 64)
	}

	if fields.accessToken == "" {
		return fields, apierr.Remote("No access token given", 0)
	}
	return fields, nil
}

func seconds(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case decimal.Decimal:
		return n.IntPart()
	case string:
		s, _ := strconv.ParseInt(n, 10, 64)
		return s
	default:
		return 0
	}
}

package httpclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenFunc returns a bearer token for one request.
type TokenFunc func(ctx context.Context) (string, error)

// BearerAuth sets "Authorization: Bearer <token>" on every request,
// replacing any Authorization header already present.
func BearerAuth(token string) Middleware {
	return setHeader("Authorization", "Bearer "+token)
}

// BearerAuthFunc is BearerAuth with a token resolved per request. A token
// error fails the call with a *TransportError before anything is sent.
//
// Example:
//
//	mw := httpclient.BearerAuthFunc(func(ctx context.Context) (string, error) {
//	    return vault.Token(ctx, "billing-api")
//	})
func BearerAuthFunc(fn TokenFunc) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			token, err := fn(ctx)
			if err != nil {
				return nil, transportErr(req, fmt.Errorf("resolve bearer token: %w", err))
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return next.Send(ctx, req)
		})
	}
}

// BasicAuth sets RFC 7617 basic credentials.
func BasicAuth(username, password string) Middleware {
	creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return setHeader("Authorization", "Basic "+creds)
}

// APIKeyAuth sets a static key header such as "X-API-Key".
func APIKeyAuth(header, key string) Middleware {
	return setHeader(header, key)
}

// APIKeyQueryAuth appends the key as a query parameter. Prefer a header where
// the API allows it: query strings end up in access logs.
func APIKeyQueryAuth(param, key string) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			pair := url.QueryEscape(param) + "=" + url.QueryEscape(key)
			if req.URL.RawQuery == "" {
				req.URL.RawQuery = pair
			} else {
				req.URL.RawQuery += "&" + pair
			}
			return next.Send(ctx, req)
		})
	}
}

func setHeader(name, value string) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			req.Header.Set(name, value)
			return next.Send(ctx, req)
		})
	}
}

// OAuth2Auth authorizes requests with tokens from ts. Tokens are cached and
// refreshed when they expire.
func OAuth2Auth(ts oauth2.TokenSource) Middleware {
	ts = oauth2.ReuseTokenSource(nil, ts)
	return BearerAuthFunc(func(context.Context) (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", err
		}
		if !tok.Valid() {
			return "", errors.New("oauth2: token source returned an invalid token")
		}
		return tok.AccessToken, nil
	})
}

// ClientCredentialsAuth runs the OAuth2 client credentials flow against
// cfg.TokenURL and authorizes requests with the resulting token.
//
// Example:
//
//	mw := httpclient.ClientCredentialsAuth(clientcredentials.Config{
//	    ClientID:     os.Getenv("CLIENT_ID"),
//	    ClientSecret: os.Getenv("CLIENT_SECRET"),
//	    TokenURL:     "https://auth.example.com/oauth/token",
//	    Scopes:       []string{"payments:read"},
//	})
func ClientCredentialsAuth(cfg clientcredentials.Config) Middleware {
	return OAuth2Auth(cfg.TokenSource(context.Background()))
}

// JWTConfig configures self-signed service tokens.
type JWTConfig struct {
	// SigningMethod defaults to HS256.
	SigningMethod jwt.SigningMethod

	// Key is the signing key: []byte for HMAC, a private key for RSA,
	// ECDSA or EdDSA.
	Key any

	Issuer   string
	Subject  string
	Audience []string

	// TTL is each token's lifetime.
	// Default: 5m
	TTL time.Duration

	// Claims are extra private claims.
	Claims map[string]any

	// KeyID is written to the "kid" header when set.
	KeyID string
}

// JWTAuth mints a signed JWT and sends it as a bearer token. A token is
// reused until a fifth of its TTL remains.
func JWTAuth(cfg JWTConfig) Middleware {
	src := &jwtSource{cfg: cfg}
	return BearerAuthFunc(func(context.Context) (string, error) {
		return src.token(time.Now())
	})
}

type jwtSource struct {
	cfg JWTConfig

	mu      sync.Mutex
	current string
	expiry  time.Time
}

func (s *jwtSource) token(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := s.cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if s.current != "" && now.Before(s.expiry.Add(-ttl/5)) {
		return s.current, nil
	}

	method := s.cfg.SigningMethod
	if method == nil {
		method = jwt.SigningMethodHS256
	}

	claims := jwt.MapClaims{}
	for k, v := range s.cfg.Claims {
		claims[k] = v
	}
	expiry := now.Add(ttl)
	claims["iat"] = jwt.NewNumericDate(now)
	claims["nbf"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(expiry)
	claims["jti"] = uuid.NewString()
	if s.cfg.Issuer != "" {
		claims["iss"] = s.cfg.Issuer
	}
	if s.cfg.Subject != "" {
		claims["sub"] = s.cfg.Subject
	}
	if len(s.cfg.Audience) > 0 {
		claims["aud"] = jwt.ClaimStrings(s.cfg.Audience)
	}

	tok := jwt.NewWithClaims(method, claims)
	if s.cfg.KeyID != "" {
		tok.Header["kid"] = s.cfg.KeyID
	}
	signed, err := tok.SignedString(s.cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	s.current = signed
	s.expiry = expiry
	return signed, nil
}

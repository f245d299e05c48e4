package tokencache

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsIssuer exchanges a client id and secret for an access
// token at {authHost}/oauth2/token using HTTP Basic client authentication.
type ClientCredentialsIssuer struct {
	cfg    clientcredentials.Config
	client *http.Client
}

// NewClientCredentialsIssuer builds an issuer for the given authorization
// host. A nil client selects http.DefaultClient.
func NewClientCredentialsIssuer(authHost, clientID, clientSecret string, client *http.Client) *ClientCredentialsIssuer {
	return &ClientCredentialsIssuer{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     strings.TrimRight(authHost, "/") + "/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		client: client,
	}
}

func (i *ClientCredentialsIssuer) Issue(ctx context.Context) (Grant, error) {
	if i.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, i.client)
	}
	tok, err := i.cfg.Token(ctx)
	if err != nil {
		return Grant{}, err
	}
	return Grant{AccessToken: tok.AccessToken, ExpiresIn: expiresIn(tok)}, nil
}

// expiresIn reads the raw expires_in field so the lifetime is measured
// against the cache clock rather than the wall clock oauth2 uses for Expiry.
func expiresIn(tok *oauth2.Token) time.Duration {
	var secs int64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case int:
		secs = int64(v)
	case json.Number:
		secs, _ = v.Int64()
	case string:
		secs, _ = strconv.ParseInt(v, 10, 64)
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Armour007/grc-assistant/internal/config"
	"github.com/Armour007/grc-assistant/internal/utils"
)

const (
	verifierCookie = "code_verifier"
	stateCookie    = "sso_state"
	ssoCookieTTL   = 15 * time.Minute
)

var ssoScopes = []string{oidc.ScopeOpenID, "email", "phone", "profile"}

// ssoProvider holds the identity provider settings and the lazily discovered
// OIDC provider.
type ssoProvider struct {
	cfg config.SSO

	mu       sync.Mutex
	provider *oidc.Provider
}

// newSSOProvider returns nil when SSO is not configured.
func newSSOProvider(cfg config.SSO) *ssoProvider {
	if !cfg.Enabled() {
		return nil
	}
	return &ssoProvider{cfg: cfg}
}

// discover resolves the provider from the issuer's discovery document, or
// from the explicit endpoint URLs when no issuer is set. Failed discovery is
// retried on the next request.
func (p *ssoProvider) discover(ctx context.Context) (*oidc.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.provider != nil {
		return p.provider, nil
	}
	if p.cfg.Issuer != "" {
		prov, err := oidc.NewProvider(ctx, p.cfg.Issuer)
		if err != nil {
			return nil, err
		}
		p.provider = prov
		return prov, nil
	}
	pc := &oidc.ProviderConfig{
		AuthURL:     p.cfg.AuthorizationURL,
		TokenURL:    p.cfg.TokenURL,
		UserInfoURL: p.cfg.UserInfoURL,
	}
	p.provider = pc.NewProvider(ctx)
	return p.provider, nil
}

func (p *ssoProvider) oauthConfig(prov *oidc.Provider) *oauth2.Config {
	ep := prov.Endpoint()
	ep.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     ep,
		RedirectURL:  p.cfg.RedirectURL,
		Scopes:       ssoScopes,
	}
}

func (p *ssoProvider) realmParams() []oauth2.AuthCodeOption {
	if p.cfg.RealmID == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("realm_id", p.cfg.RealmID)}
}

// SSOLogin starts the authorization code flow with PKCE. The verifier and the
// state nonce live in short-lived cookies until the callback.
func (s *Server) SSOLogin(c *gin.Context) {
	if s.sso == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DI configuration is missing."})
		return
	}
	prov, err := s.sso.discover(c.Request.Context())
	if err != nil {
		s.log.Error("sso provider discovery failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reach identity provider"})
		return
	}

	nonce := uuid.NewString()
	state, err := utils.SignState(s.jwtSecret, nonce, ssoCookieTTL)
	if err != nil {
		s.log.Error("signing sso state failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start login"})
		return
	}
	verifier := oauth2.GenerateVerifier()
	s.setSSOCookie(c, verifierCookie, verifier, ssoCookieTTL)
	s.setSSOCookie(c, stateCookie, nonce, ssoCookieTTL)

	opts := append([]oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	}, s.sso.realmParams()...)
	c.Redirect(http.StatusFound, s.sso.oauthConfig(prov).AuthCodeURL(state, opts...))
}

// SSOCallback exchanges the code, fetches the user profile, upserts the user
// and hands an application token to the frontend. Every failure ends in a
// redirect to the frontend login page.
func (s *Server) SSOCallback(c *gin.Context) {
	if s.sso == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DI configuration is missing."})
		return
	}
	if idpErr := c.Query("error"); idpErr != "" {
		s.ssoFail(c, idpErr)
		return
	}
	code := c.Query("code")
	if code == "" {
		s.ssoFail(c, "missing_code")
		return
	}
	verifier, err := c.Cookie(verifierCookie)
	if err != nil || verifier == "" {
		s.ssoFail(c, "missing_verifier")
		return
	}
	nonceCookie, _ := c.Cookie(stateCookie)
	s.clearSSOCookies(c)

	nonce, err := utils.VerifyState(s.jwtSecret, c.Query("state"))
	if err != nil || nonce != nonceCookie {
		s.ssoFail(c, "invalid_state")
		return
	}

	ctx := c.Request.Context()
	prov, err := s.sso.discover(ctx)
	if err != nil {
		s.log.Error("sso provider discovery failed", zap.Error(err))
		s.ssoFail(c, err.Error())
		return
	}
	opts := append([]oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}, s.sso.realmParams()...)
	tok, err := s.sso.oauthConfig(prov).Exchange(ctx, code, opts...)
	if err != nil {
		s.log.Warn("sso token exchange failed", zap.Error(err))
		s.ssoFail(c, exchangeMessage(err))
		return
	}

	info, err := prov.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		s.log.Warn("sso userinfo failed", zap.Error(err))
		s.ssoFail(c, err.Error())
		return
	}
	var profile struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := info.Claims(&profile); err != nil {
		s.log.Warn("sso userinfo claims unreadable", zap.Error(err))
	}
	email := strings.TrimSpace(profile.Email)
	if email == "" {
		email = strings.TrimSpace(info.Email)
	}
	if email == "" {
		s.ssoFail(c, "no_email_in_profile")
		return
	}
	var name *string
	if n := strings.TrimSpace(profile.Name); n != "" {
		name = &n
	}

	user, err := s.store.UpsertSSOUser(ctx, email, name)
	if err != nil {
		s.log.Error("sso user sync failed", zap.String("email", email), zap.Error(err))
		s.ssoFail(c, "user_sync_failed")
		return
	}
	appToken, err := s.issueToken(user)
	if err != nil {
		s.log.Error("token signing failed", zap.Error(err))
		s.ssoFail(c, "token_issue_failed")
		return
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		s.ssoFail(c, "user_sync_failed")
		return
	}

	s.log.Info("sso login", zap.String("userID", user.ID.String()), zap.String("name", user.DisplayName()))
	q := url.Values{}
	q.Set("token", appToken)
	q.Set("user", string(userJSON))
	c.Redirect(http.StatusFound, s.frontendURL("/auth/callback")+"?"+q.Encode())
}

func (s *Server) setSSOCookie(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(ttl/time.Second), "/", "", s.cfg.Production(), true)
}

// clearSSOCookies expires the PKCE verifier and state cookies; a negative
// MaxAge makes gin emit Max-Age=0.
func (s *Server) clearSSOCookies(c *gin.Context) {
	for _, name := range []string{verifierCookie, stateCookie} {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(name, "", -1, "/", "", s.cfg.Production(), true)
	}
}

func (s *Server) ssoFail(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, s.frontendURL("/login")+"?error="+url.QueryEscape(code))
}

func (s *Server) frontendURL(path string) string {
	origin := s.cfg.FrontendOrigin
	if origin == "*" {
		origin = ""
	}
	return strings.TrimRight(origin, "/") + path
}

func exchangeMessage(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorDescription != "" {
			return re.ErrorDescription
		}
		if re.ErrorCode != "" {
			return re.ErrorCode
		}
	}
	return err.Error()
}

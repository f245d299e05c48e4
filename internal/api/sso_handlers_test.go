package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	database "github.com/Armour007/grc-assistant/internal"
	"github.com/Armour007/grc-assistant/internal/config"
	"github.com/Armour007/grc-assistant/internal/utils"
)

type fakeIdP struct {
	*httptest.Server
	email    string
	verifier string
}

func newIdP(t *testing.T, email string) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{email: email}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" || r.Form.Get("client_secret") != "di-secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Code expired"}`))
			return
		}
		idp.verifier = r.Form.Get("code_verifier")
		assert.Equal(t, "di-client", r.Form.Get("client_id"))
		assert.Equal(t, "realm-1", r.Form.Get("realm_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"sub": "di-1", "email": idp.email, "name": "Dana Auditor"})
	})
	idp.Server = httptest.NewServer(mux)
	t.Cleanup(idp.Close)
	return idp
}

func newSSOFixture(t *testing.T, idp *fakeIdP) *fixture {
	return newFixture(t, func(o *Options) {
		o.Config.SSO = config.SSO{
			ClientID:         "di-client",
			ClientSecret:     "di-secret",
			RealmID:          "realm-1",
			AuthorizationURL: idp.URL + "/authorize",
			TokenURL:         idp.URL + "/token",
			UserInfoURL:      idp.URL + "/userinfo",
			RedirectURL:      "http://api.test/api/di-auth/callback",
		}
	})
}

func callbackRequest(t *testing.T, query url.Values, verifier, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/di-auth/callback?"+query.Encode(), nil)
	if verifier != "" {
		req.AddCookie(&http.Cookie{Name: verifierCookie, Value: verifier})
	}
	if nonce != "" {
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: nonce})
	}
	return req
}

func validState(t *testing.T, nonce string) string {
	t.Helper()
	st, err := utils.SignState([]byte(testSecret), nonce, time.Minute)
	require.NoError(t, err)
	return st
}

func loginErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "frontend.test", loc.Host)
	return loc.Query().Get("error")
}

func TestSSO_Disabled(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/di-auth/login", "/api/di-auth/callback?code=x"} {
		w := f.request(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "DI configuration is missing.", decode(t, w)["error"])
	}
}

func TestSSOLogin_RedirectsWithPKCE(t *testing.T) {
	idp := newIdP(t, "dana@grc.com")
	f := newSSOFixture(t, idp)

	w := f.request(http.MethodGet, "/api/di-auth/login", "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, idp.URL+"/authorize", loc.Scheme+"://"+loc.Host+loc.Path)

	q := loc.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "di-client", q.Get("client_id"))
	assert.Equal(t, "http://api.test/api/di-auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "openid email phone profile", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "realm-1", q.Get("realm_id"))

	cookies := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, verifierCookie)
	require.Contains(t, cookies, stateCookie)
	assert.True(t, cookies[verifierCookie].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[verifierCookie].SameSite)
	assert.Equal(t, 900, cookies[verifierCookie].MaxAge)
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(cookies[verifierCookie].Value), q.Get("code_challenge"))

	nonce, err := utils.VerifyState([]byte(testSecret), q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, cookies[stateCookie].Value, nonce)
	assert.Equal(t, nonce, q.Get("nonce"))
}

func TestSSOCallback_Errors(t *testing.T) {
	idp := newIdP(t, "dana@grc.com")
	f := newSSOFixture(t, idp)

	cases := []struct {
		name  string
		req   *http.Request
		error string
	}{
		{"idp error", callbackRequest(t, url.Values{"error": {"access_denied"}}, "v", "n"), "access_denied"},
		{"missing code", callbackRequest(t, url.Values{"state": {validState(t, "n")}}, "v", "n"), "missing_code"},
		{"missing verifier", callbackRequest(t, url.Values{"code": {"good-code"}, "state": {validState(t, "n")}}, "", "n"), "missing_verifier"},
		{"bad state", callbackRequest(t, url.Values{"code": {"good-code"}, "state": {"garbage"}}, "v", "n"), "invalid_state"},
		{"state of another browser", callbackRequest(t, url.Values{"code": {"good-code"}, "state": {validState(t, "other")}}, "v", "n"), "invalid_state"},
		{"exchange rejected", callbackRequest(t, url.Values{"code": {"stale"}, "state": {validState(t, "n")}}, "v", "n"), "Code expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.error, loginErrorCode(t, f.do(tc.req)))
		})
	}
}

func TestSSOCallback_NoEmail(t *testing.T) {
	idp := newIdP(t, "")
	f := newSSOFixture(t, idp)
	w := f.do(callbackRequest(t, url.Values{"code": {"good-code"}, "state": {validState(t, "n")}}, "verifier-1", "n"))
	assert.Equal(t, "no_email_in_profile", loginErrorCode(t, w))
}

func TestSSOCallback_CreatesUserAndRedirects(t *testing.T) {
	idp := newIdP(t, "dana@grc.com")
	f := newSSOFixture(t, idp)
	id := uuid.New()
	now := time.Now()
	f.mock.ExpectQuery(`INSERT INTO users .+ ON CONFLICT \(email\) DO UPDATE`).
		WithArgs("dana@grc.com", "Dana Auditor", database.SSOPasswordSentinel).
		WillReturnRows(userRow(database.User{ID: id, Email: "dana@grc.com", Name: strPtr("Dana Auditor"),
			PasswordHash: strPtr(database.SSOPasswordSentinel), Role: database.RoleUser, CreatedAt: now, UpdatedAt: now}))

	w := f.do(callbackRequest(t, url.Values{"code": {"good-code"}, "state": {validState(t, "n")}}, "verifier-1", "n"))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "verifier-1", idp.verifier)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", loc.Path)

	claims, err := utils.ParseJWT([]byte(testSecret), loc.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.UserID)

	var user map[string]any
	require.NoError(t, json.Unmarshal([]byte(loc.Query().Get("user")), &user))
	assert.Equal(t, "dana@grc.com", user["email"])
	assert.NotContains(t, user, "passwordHash")

	assertSSOCookiesCleared(t, w)
}

func assertSSOCookiesCleared(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		if c.Name == verifierCookie || c.Name == stateCookie {
			assert.Negative(t, c.MaxAge, c.Name)
			assert.Empty(t, c.Value)
			cleared[c.Name] = true
		}
	}
	assert.Len(t, cleared, 2)
	for _, h := range w.Header().Values("Set-Cookie") {
		assert.Contains(t, h, "Max-Age=0")
	}
}

func TestSSOCallback_InvalidStateClearsCookies(t *testing.T) {
	idp := newIdP(t, "dana@grc.com")
	f := newSSOFixture(t, idp)
	w := f.do(callbackRequest(t, url.Values{"code": {"good-code"}, "state": {"garbage"}}, "verifier-1", "n"))
	assert.Equal(t, "invalid_state", loginErrorCode(t, w))
	assertSSOCookiesCleared(t, w)
}

func TestSSOCallback_MalformedClaimStillSignsIn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"di-1","email":"dana@grc.com","name":42}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	f := newSSOFixture(t, &fakeIdP{Server: srv})

	id := uuid.New()
	now := time.Now()
	f.mock.ExpectQuery(`INSERT INTO users .+ ON CONFLICT \(email\) DO UPDATE`).
		WithArgs("dana@grc.com", nil, database.SSOPasswordSentinel).
		WillReturnRows(userRow(database.User{ID: id, Email: "dana@grc.com",
			PasswordHash: strPtr(database.SSOPasswordSentinel), Role: database.RoleUser, CreatedAt: now, UpdatedAt: now}))

	w := f.do(callbackRequest(t, url.Values{"code": {"good-code"}, "state": {validState(t, "n")}}, "verifier-1", "n"))
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", loc.Path)
}

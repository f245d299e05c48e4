package api

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	database "github.com/Armour007/grc-assistant/internal"
	"github.com/Armour007/grc-assistant/internal/config"
	"github.com/Armour007/grc-assistant/internal/objectstore"
	"github.com/Armour007/grc-assistant/internal/utils"
)

const testSecret = "test-secret"

var (
	userCols    = []string{"id", "email", "name", "password_hash", "role", "created_at", "updated_at"}
	docCols     = []string{"id", "file_name", "file_type", "file_size", "storage_key", "uploaded_by_id", "created_at", "updated_at"}
	sessionCols = []string{"id", "user_id", "title", "created_at", "updated_at"}
	messageCols = []string{"id", "session_id", "content", "role", "timestamp"}
)

type fixture struct {
	server  *Server
	router  *gin.Engine
	mock    sqlmock.Sqlmock
	objects *objectstore.Memory
	cfg     *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		FrontendOrigin: "http://frontend.test",
		Environment:    "test",
		JWT:            config.JWT{Secret: testSecret, TTL: time.Hour},
		LoginRPM:       100,
	}
}

// newFixture builds a Server backed by sqlmock and an in-memory object store.
// mutate may adjust the options before the server is created.
func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	objects := objectstore.NewMemory()
	opts := Options{
		Config:  testConfig(),
		DB:      sqlx.NewDb(db, "sqlmock"),
		Objects: objects,
	}
	for _, m := range mutate {
		m(&opts)
	}
	srv := NewServer(opts)
	return &fixture{server: srv, router: srv.Router(), mock: mock, objects: objects, cfg: opts.Config}
}

func (f *fixture) token(t *testing.T, id uuid.UUID, role string) string {
	t.Helper()
	tok, err := utils.GenerateJWT([]byte(testSecret), time.Hour, id.String(), "someone@grc.com", role)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) request(method, path, token string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return f.do(req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func strPtr(s string) *string { return &s }

// nullable turns an optional string into a driver value.
func nullable(p *string) driver.Value {
	if p == nil {
		return nil
	}
	return *p
}

func userRow(u database.User) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).AddRow(u.ID.String(), u.Email, nullable(u.Name), nullable(u.PasswordHash), u.Role, u.CreatedAt, u.UpdatedAt)
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	w := f.request(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GRC Assistant API is running!", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectPing()
	w := f.request(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyz_DatabaseDown(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectPing().WillReturnError(assert.AnError)
	w := f.request(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "database unavailable", decode(t, w)["error"])
}

func TestCORS_ConfiguredOrigin(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://frontend.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := f.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://frontend.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_WildcardReflectsOrigin(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.FrontendOrigin = "*" })
	req := httptest.NewRequest(http.MethodOptions, "/api/documents", nil)
	req.Header.Set("Origin", "http://elsewhere.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := f.do(req)
	assert.Equal(t, "http://elsewhere.test", w.Header().Get("Access-Control-Allow-Origin"))
}

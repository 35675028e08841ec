package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"inkwell/internal/middleware"
)

var testSecret = []byte("test-secret")

func newAuthHandler(t *testing.T) (*AuthHandler, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewAuthHandler(sqlx.NewDb(raw, "sqlmock"), testSecret, zap.NewNop()), mock
}

func userRow(t *testing.T, password string) *sqlmock.Rows {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{"id", "name", "email", "phone", "gender", "password_hash", "created_at"}).
		AddRow(int64(1), "A", "a@x.com", nil, nil, string(hash), time.Now())
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithUser(req.Context(), 1, "a@x.com"))
}

func decodeToken(t *testing.T, token string) jwt.MapClaims {
	t.Helper()
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return testSecret, nil })
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	return parsed.Claims.(jwt.MapClaims)
}

func TestSignupSuccess(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("A", "a@x.com", nil, nil, sqlmock.AnyArg()).
		WillReturnRows(userRow(t, "p"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"name":"A","email":"a@x.com","password":"p"}`))
	rr := httptest.NewRecorder()
	h.Signup(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		User  map[string]any `json:"user"`
		Token string         `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "a@x.com", resp.User["email"])
	assert.NotContains(t, resp.User, "password_hash")

	claims := decodeToken(t, resp.Token)
	assert.Equal(t, float64(1), claims["id"])
	assert.Equal(t, "a@x.com", claims["email"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignupDuplicateEmail(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"name":"B","email":"a@x.com","password":"other"}`))
	rr := httptest.NewRecorder()
	h.Signup(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"user already exists with this email"}`, rr.Body.String())
}

func TestSignupMissingFields(t *testing.T) {
	h, _ := newAuthHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"email":"a@x.com"}`))
	rr := httptest.NewRecorder()
	h.Signup(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginSuccess(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, email, phone, gender, password_hash, created_at FROM users WHERE email = $1")).
		WithArgs("a@x.com").
		WillReturnRows(userRow(t, "p"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"a@x.com","password":"p"}`))
	rr := httptest.NewRecorder()
	h.Login(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	claims := decodeToken(t, resp.Token)
	assert.Equal(t, float64(1), claims["id"])
}

// Wrong password and unknown email must be indistinguishable to the caller.
func TestLoginNoEnumerationSignal(t *testing.T) {
	h, mock := newAuthHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email")).
		WillReturnRows(userRow(t, "correct"))
	wrongPw := httptest.NewRecorder()
	h.Login(wrongPw, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"a@x.com","password":"wrong"}`)))

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email")).
		WillReturnError(sql.ErrNoRows)
	unknown := httptest.NewRecorder()
	h.Login(unknown, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ghost@x.com","password":"wrong"}`)))

	assert.Equal(t, http.StatusUnauthorized, wrongPw.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrongPw.Body.String(), unknown.Body.String())
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rr := httptest.NewRecorder()
	h.ForgotPassword(rr, httptest.NewRequest(http.MethodPost, "/api/auth/forgot-password",
		strings.NewReader(`{"email":"ghost@x.com","newPassword":"np"}`)))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestForgotPasswordSuccess(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash")).
		WithArgs(sqlmock.AnyArg(), "a@x.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	h.ForgotPassword(rr, httptest.NewRequest(http.MethodPost, "/api/auth/forgot-password",
		strings.NewReader(`{"email":"a@x.com","newPassword":"np"}`)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"password updated successfully"}`, rr.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfile(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(userRow(t, "p"))

	rr := httptest.NewRecorder()
	h.GetProfile(rr, authedRequest(http.MethodGet, "/api/auth/profile", ""))

	require.Equal(t, http.StatusOK, rr.Code)
	var user map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
	assert.Equal(t, "a@x.com", user["email"])
	assert.NotContains(t, user, "password_hash")
}

func TestGetProfileGone(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WillReturnError(sql.ErrNoRows)

	rr := httptest.NewRecorder()
	h.GetProfile(rr, authedRequest(http.MethodGet, "/api/auth/profile", ""))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateProfilePartial(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET name = COALESCE($1, name)")).
		WithArgs("New Name", nil, nil, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "phone", "gender", "password_hash", "created_at"}).
			AddRow(int64(1), "New Name", "a@x.com", nil, nil, "hash", time.Now()))

	rr := httptest.NewRecorder()
	h.UpdateProfile(rr, authedRequest(http.MethodPut, "/api/auth/profile", `{"name":"New Name"}`))

	require.Equal(t, http.StatusOK, rr.Code)
	var user map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
	assert.Equal(t, "New Name", user["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAccount(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	h.DeleteAccount(rr, authedRequest(http.MethodDelete, "/api/auth/account", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"account deleted successfully"}`, rr.Body.String())
}

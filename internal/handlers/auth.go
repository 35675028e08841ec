package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"inkwell/internal/middleware"
	"inkwell/internal/models"
)

// Tokens are valid for seven days; there is no server-side revocation.
const tokenTTL = 7 * 24 * time.Hour

const userColumns = `id, name, email, phone, gender, password_hash, created_at`

type AuthHandler struct {
	db        *sqlx.DB
	jwtSecret []byte
	logger    *zap.Logger
}

func NewAuthHandler(db *sqlx.DB, jwtSecret []byte, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, jwtSecret: jwtSecret, logger: logger}
}

type signupRequest struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Gender   *string `json:"gender"`
	Password string  `json:"password"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}

	var user models.User
	err = h.db.QueryRowxContext(r.Context(),
		`INSERT INTO users (name, email, phone, gender, password_hash) VALUES ($1, $2, $3, $4, $5) RETURNING `+userColumns,
		req.Name, req.Email, req.Phone, req.Gender, string(hashed)).StructScan(&user)
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusBadRequest, "user already exists with this email")
			return
		}
		h.logger.Error("could not create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create user")
		return
	}

	token, err := h.issueJWT(user)
	if err != nil {
		h.logger.Error("could not issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	var user models.User
	err := h.db.GetContext(r.Context(), &user,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Same message as a password mismatch so callers cannot probe
			// which emails are registered.
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.logger.Error("login query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := h.issueJWT(user)
	if err != nil {
		h.logger.Error("could not issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "token": token})
}

type forgotPasswordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
}

// ForgotPassword overwrites the password hash for a known email. Knowing the
// email is the only proof required; the rate limiter on this route is the
// only other guard.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Email == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "email and newPassword are required")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}

	res, err := h.db.ExecContext(r.Context(),
		`UPDATE users SET password_hash = $1 WHERE email = $2`, string(hashed), req.Email)
	if err != nil {
		h.logger.Error("password reset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not update password")
		return
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeMessage(w, "password updated successfully")
}

func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	var user models.User
	err := h.db.GetContext(r.Context(), &user,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("profile query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateProfileRequest struct {
	Name   *string `json:"name"`
	Phone  *string `json:"phone"`
	Gender *string `json:"gender"`
}

// UpdateProfile changes name, phone and gender only. Email and password are
// immutable through this path. Absent fields leave the stored value alone.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	var user models.User
	err := h.db.QueryRowxContext(r.Context(),
		`UPDATE users SET name = COALESCE($1, name), phone = COALESCE($2, phone), gender = COALESCE($3, gender) WHERE id = $4 RETURNING `+userColumns,
		req.Name, req.Phone, req.Gender, userID).StructScan(&user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("profile update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteAccount removes the user row; journals go with it via the foreign key
// cascade. Image blobs for those journals are not cleaned up here.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	res, err := h.db.ExecContext(r.Context(), `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		h.logger.Error("account deletion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete account")
		return
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeMessage(w, "account deleted successfully")
}

func (h *AuthHandler) issueJWT(user models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"id":    user.ID,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

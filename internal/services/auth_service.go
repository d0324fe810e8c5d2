package services

import (
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

// AuthService authenticates the facility operator for the admin API. The
// operator password is provisioned out-of-band as an argon2id hash in config;
// a successful login yields a bearer token for the protected endpoints.
type AuthService struct {
	validator    *ValidationHelper
	passwordHash string
	jwtSecret    string
	tokenExpiry  time.Duration
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string `json:"token"`
}

func NewAuthService(passwordHash, jwtSecret string, tokenExpiry time.Duration) *AuthService {
	return &AuthService{
		validator:    NewValidationHelper(),
		passwordHash: passwordHash,
		jwtSecret:    jwtSecret,
		tokenExpiry:  tokenExpiry,
	}
}

// Login handles operator authentication
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !VerifyPassword(req.Password, s.passwordHash) {
		log.Printf("[AUTH] Login failed from IP: %s", r.RemoteAddr)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := s.generateJWT()
	if err != nil {
		log.Printf("[AUTH] Token generation failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Operator logged in from IP: %s", r.RemoteAddr)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token})
}

func (s *AuthService) generateJWT() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "operator",
		"role": "operator",
		"exp":  time.Now().Add(s.tokenExpiry).Unix(),
	})
	return token.SignedString([]byte(s.jwtSecret))
}

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword derives an argon2id hash in salt$hash form for config
// provisioning.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash), nil
}

// VerifyPassword checks a password against a salt$hash argon2id digest.
func VerifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return string(hash) == string(computed)
}

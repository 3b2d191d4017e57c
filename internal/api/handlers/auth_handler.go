package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/healthchat-app/HealthChat/internal/core"
	"github.com/healthchat-app/HealthChat/internal/models"
	"github.com/healthchat-app/HealthChat/internal/services"
)

type AuthHandler struct {
	profiles *services.ProfileService
	otp      *services.OTPService
	mailer   core.Mailer
}

func NewAuthHandler(profiles *services.ProfileService, otp *services.OTPService, mailer core.Mailer) *AuthHandler {
	return &AuthHandler{profiles: profiles, otp: otp, mailer: mailer}
}

type signupRequest struct {
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	PhoneNumber     string `json:"phone_number"`
	Age             string `json:"age"`
	Gender          string `json:"gender"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\d{10}$`)
)

// validate checks the signup form before any network call and returns
// per-field messages.
func (req *signupRequest) validate() map[string]string {
	errs := map[string]string{}
	if len(strings.TrimSpace(req.FullName)) < 2 {
		errs["full_name"] = "Full name is required"
	}
	if !emailPattern.MatchString(req.Email) {
		errs["email"] = "Invalid email address"
	}
	if !phonePattern.MatchString(req.PhoneNumber) {
		errs["phone_number"] = "Must be a 10-digit number"
	}
	if age, err := strconv.Atoi(req.Age); err != nil || age < 18 {
		errs["age"] = "Must be at least 18"
	}
	if req.Gender == "" {
		errs["gender"] = "Select gender"
	}
	if len(req.Password) < 8 {
		errs["password"] = "Password must be at least 8 characters"
	}
	if req.Password != req.ConfirmPassword {
		errs["confirm_password"] = "Passwords do not match"
	}
	return errs
}

// Signup validates the form, refuses existing or suspended accounts,
// stages the profile and mails out a verification code.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if errs := req.validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}

	existing, err := h.profiles.Get(r.Context(), req.Email)
	if err != nil && !errors.Is(err, services.ErrProfileNotFound) {
		http.Error(w, "could not check account", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		if existing.IsBanned {
			http.Error(w, "this account has been suspended by an Admin", http.StatusForbidden)
			return
		}
		http.Error(w, "this email is already registered, please log in", http.StatusConflict)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "could not process password", http.StatusInternalServerError)
		return
	}

	profile := &models.Profile{
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         models.RoleAccountUser,
		FullName:     req.FullName,
		PhoneNumber:  req.PhoneNumber,
		Age:          req.Age,
		Gender:       req.Gender,
	}

	code, err := h.otp.Begin(profile)
	if err != nil {
		http.Error(w, "could not start verification", http.StatusInternalServerError)
		return
	}

	if err := h.mailer.SendOTP(r.Context(), req.Email, firstName(req.FullName), code); err != nil {
		log.Printf("otp mail to %s failed: %v", req.Email, err)
		http.Error(w, "failed to send verification email", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "verification code sent"})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyOTP consumes the code, creates the account and signs the caller in.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	profile, err := h.otp.Verify(req.Email, req.Code)
	if err != nil {
		http.Error(w, "invalid or expired code", http.StatusUnauthorized)
		return
	}

	if err := h.profiles.Create(r.Context(), profile); err != nil {
		http.Error(w, "could not create account", http.StatusInternalServerError)
		return
	}

	token := generateJWT(profile.Email, profile.Role)
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "role": profile.Role})
}

type resendRequest struct {
	Email string `json:"email"`
}

// ResendOTP issues a fresh code for a pending signup.
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	code, name, err := h.otp.Resend(req.Email)
	if err != nil {
		http.Error(w, "no pending signup for this email", http.StatusNotFound)
		return
	}
	if err := h.mailer.SendOTP(r.Context(), req.Email, firstName(name), code); err != nil {
		log.Printf("otp mail to %s failed: %v", req.Email, err)
		http.Error(w, "failed to send verification email", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "verification code sent"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	profile, err := h.profiles.Get(r.Context(), req.Email)
	if errors.Is(err, services.ErrProfileNotFound) {
		http.Error(w, "no account found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "could not load account", http.StatusInternalServerError)
		return
	}
	if profile.IsBanned {
		http.Error(w, "this account has been suspended by an Admin", http.StatusForbidden)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token := generateJWT(profile.Email, profile.Role)
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "role": profile.Role})
}

// generateJWT creates a signed token with email and role claims.
func generateJWT(email, role string) string {
	secret := os.Getenv("JWT_SECRET")
	claims := jwt.MapClaims{
		"email": email,
		"role":  role,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, _ := tok.SignedString([]byte(secret))
	return token
}

func firstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

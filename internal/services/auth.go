package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"gift-journal-backend/internal/config"
	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/repository"
	"gift-journal-backend/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	inviteCodePrefix = "GIFT-"
	inviteCodeChars  = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	inviteCodeLength = 4
	minPasswordLen   = 6
	maxNameLen       = 64
)

// Two pre-GIFT codes that stay valid as binding lookup keys.
var legacyInviteCodes = map[string]bool{
	"XHB-LLQ": true,
	"LLQ-XHB": true,
}

var (
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	inviteCodePattern = regexp.MustCompile(`^GIFT-[A-Z0-9]{4}$`)
)

// errCodeInvalid is the single message for every verification failure branch.
// Distinguishing absent, expired, exhausted, and wrong-code outcomes would
// leak account state.
var errCodeInvalid = httperr.New(http.StatusBadRequest, "invalid or expired verification code")

// AuthResult is the issued-credential response for login and signup.
type AuthResult struct {
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
	Partner *models.User `json:"partner"`
}

// CodeResponse acknowledges a verification-code request without revealing
// whether anything was actually sent.
type CodeResponse struct {
	OK               bool   `json:"ok"`
	Message          string `json:"message"`
	ExpiresInMinutes int    `json:"expiresInMinutes"`
}

// verificationLedger is the slice of the verification repository the auth
// flows need. Narrowed to an interface so ledger tests can run on fakes.
type verificationLedger interface {
	Get(ctx context.Context, email, purpose string) (*models.EmailVerification, error)
	Upsert(ctx context.Context, record *models.EmailVerification) error
	IncrementAttempts(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// AuthService owns the verification ledger, credential issuance, and profile
// operations.
type AuthService struct {
	userRepo      *repository.UserRepository
	verifRepo     verificationLedger
	notifications *NotificationService
	mailer        *Mailer
	jwtCfg        config.JWTConfig
	verifCfg      config.VerificationConfig
}

// NewAuthService creates a new auth service
func NewAuthService(
	userRepo *repository.UserRepository,
	verifRepo *repository.VerificationRepository,
	notifications *NotificationService,
	mailer *Mailer,
	jwtCfg config.JWTConfig,
	verifCfg config.VerificationConfig,
) *AuthService {
	return &AuthService{
		userRepo:      userRepo,
		verifRepo:     verifRepo,
		notifications: notifications,
		mailer:        mailer,
		jwtCfg:        jwtCfg,
		verifCfg:      verifCfg,
	}
}

// holdLatencyFloor pads the elapsed time of an auth-adjacent operation up to
// the configured minimum, on success and failure alike, so response timing
// does not reveal which branch ran.
func (s *AuthService) holdLatencyFloor(start time.Time) {
	if remaining := s.verifCfg.UniformLatency() - time.Since(start); remaining > 0 {
		time.Sleep(remaining)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func codeMatches(storedHash, code string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashCode(code))) == 1
}

func generateNumericCode() string {
	code := make([]byte, 6)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		code[i] = byte('0' + n.Int64())
	}
	return string(code)
}

func generateInviteCode() string {
	code := make([]byte, inviteCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(inviteCodeChars))))
		code[i] = inviteCodeChars[n.Int64()]
	}
	return inviteCodePrefix + string(code)
}

// ValidInviteCode reports whether a code can name a binding target.
func ValidInviteCode(code string) bool {
	return inviteCodePattern.MatchString(code) || legacyInviteCodes[code]
}

// GenerateUniqueInviteCode draws codes until one is free.
func (s *AuthService) GenerateUniqueInviteCode(ctx context.Context) (string, error) {
	maxAttempts := 10
	for i := 0; i < maxAttempts; i++ {
		code := generateInviteCode()
		exists, err := s.userRepo.InviteCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check invite code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique invite code after %d attempts", maxAttempts)
}

// SignToken issues an HS256 credential embedding the user's current
// revocation counter.
func (s *AuthService) SignToken(userID string, tokenVersion int) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"tv":  tokenVersion,
		"iss": s.jwtCfg.Issuer,
		"aud": s.jwtCfg.Audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(s.jwtCfg.ExpiresHours) * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtCfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a credential and returns its subject and embedded
// token version. Callers must still compare the version against the store.
func (s *AuthService) ParseToken(tokenString string) (string, int, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.jwtCfg.Issuer),
		jwt.WithAudience(s.jwtCfg.Audience),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtCfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return "", 0, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", 0, fmt.Errorf("invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", 0, fmt.Errorf("subject missing from token")
	}
	version, ok := claims["tv"].(float64)
	if !ok {
		return "", 0, fmt.Errorf("token version missing from token")
	}
	return sub, int(version), nil
}

// loadPartner resolves the live partner row, nil when unbound.
func (s *AuthService) loadPartner(ctx context.Context, user *models.User) (*models.User, error) {
	if user == nil || user.PartnerID == nil {
		return nil, nil
	}
	return s.userRepo.GetByID(ctx, *user.PartnerID)
}

// RequestSignupCode starts the signup flow. When the email already belongs
// to a verified account a decoy code is stored and nothing is delivered; the
// response is identical either way.
func (s *AuthService) RequestSignupCode(ctx context.Context, email, password string) (*CodeResponse, error) {
	defer s.holdLatencyFloor(time.Now())

	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, httperr.New(http.StatusBadRequest, "invalid email address")
	}
	if len(password) < minPasswordLen {
		return nil, httperr.Newf(http.StatusBadRequest, "password must be at least %d characters", minPasswordLen)
	}

	prior, err := s.verifRepo.Get(ctx, email, models.PurposeSignup)
	if err != nil {
		return nil, err
	}
	cooldown := time.Duration(s.verifCfg.SignupCooldownSeconds) * time.Second
	if prior != nil && time.Since(prior.LastSentAt) < cooldown {
		return nil, httperr.New(http.StatusTooManyRequests, "please wait before requesting another code")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	code := generateNumericCode()
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	alreadyRegistered := existing != nil && existing.EmailVerified
	storedCode := code
	if alreadyRegistered {
		// Store a code the requester will never see so the ledger row and
		// the response shape match the fresh-signup path exactly.
		storedCode = generateNumericCode()
	}

	record := &models.EmailVerification{
		ID:           uuid.New().String(),
		Email:        email,
		Purpose:      models.PurposeSignup,
		CodeHash:     hashCode(storedCode),
		PasswordHash: string(passwordHash),
		ExpiresAt:    time.Now().Add(s.verifCfg.CodeTTL()),
	}
	if err := s.verifRepo.Upsert(ctx, record); err != nil {
		return nil, err
	}

	if !alreadyRegistered {
		mailer, ttl := s.mailer, s.verifCfg.CodeTTLMinutes
		fireAndForget("signup-code-email", func(ctx context.Context) error {
			return mailer.SendVerificationCode(ctx, email, code, ttl)
		})
	}

	return &CodeResponse{
		OK:               true,
		Message:          "verification code sent",
		ExpiresInMinutes: s.verifCfg.CodeTTLMinutes,
	}, nil
}

// checkLedger runs the shared fail-closed verification sequence and returns
// the live record. Every failure branch collapses to the same error.
func (s *AuthService) checkLedger(ctx context.Context, email, purpose, code string) (*models.EmailVerification, error) {
	record, err := s.verifRepo.Get(ctx, email, purpose)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errCodeInvalid
	}
	if time.Now().After(record.ExpiresAt) {
		if err := s.verifRepo.Delete(ctx, record.ID); err != nil {
			return nil, err
		}
		return nil, errCodeInvalid
	}
	// The ceiling is enforced before any comparison happens.
	if record.Attempts >= s.verifCfg.MaxAttempts {
		return nil, errCodeInvalid
	}
	if !codeMatches(record.CodeHash, code) {
		if err := s.verifRepo.IncrementAttempts(ctx, record.ID); err != nil {
			return nil, err
		}
		return nil, errCodeInvalid
	}
	return record, nil
}

// VerifySignupCode completes registration: it promotes or creates the user
// row, deletes the ledger entry, and issues a credential.
func (s *AuthService) VerifySignupCode(ctx context.Context, email, code, password string) (*AuthResult, error) {
	defer s.holdLatencyFloor(time.Now())

	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) || code == "" {
		return nil, errCodeInvalid
	}
	record, err := s.checkLedger(ctx, email, models.PurposeSignup, code)
	if err != nil {
		return nil, err
	}

	passwordHash := record.PasswordHash
	if passwordHash == "" {
		if len(password) < minPasswordLen {
			return nil, httperr.Newf(http.StatusBadRequest, "password must be at least %d characters", minPasswordLen)
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		passwordHash = string(hashed)
	}

	user, err := s.establishVerifiedUser(ctx, email, passwordHash)
	if err != nil {
		return nil, err
	}

	verifRepo, recordID := s.verifRepo, record.ID
	fireAndForget("signup-ledger-cleanup", func(ctx context.Context) error {
		return verifRepo.Delete(ctx, recordID)
	})
	s.notifications.NotifyDetached(user.ID, "Welcome", "Your account is ready. Share your invite code to connect with your partner.", models.NotificationSystem)

	token, err := s.SignToken(user.ID, user.TokenVersion)
	if err != nil {
		return nil, err
	}
	partner, err := s.loadPartner(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user, Partner: partner}, nil
}

// establishVerifiedUser promotes an unverified account or creates a fresh
// one. A concurrent duplicate verification loses the insert race on the
// email unique constraint and recovers by re-reading the winner's row.
func (s *AuthService) establishVerifiedUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.EmailVerified {
		// A decoy ledger row can never match a delivered code, so reaching
		// here means the account raced ahead through another session.
		return nil, errCodeInvalid
	}

	name := email
	if at := strings.Index(email, "@"); at > 0 {
		name = email[:at]
	}
	inviteCode, err := s.GenerateUniqueInviteCode(ctx)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return s.userRepo.PromoteVerified(ctx, existing.ID, passwordHash, inviteCode, name)
	}

	user := &models.User{
		ID:             uuid.New().String(),
		Email:          email,
		PasswordHash:   passwordHash,
		InvitationCode: inviteCode,
		Name:           name,
		Gender:         models.GenderMale,
	}
	created, err := s.userRepo.CreateVerified(ctx, user)
	if err != nil {
		if store.IsUniqueViolation(err, "users_email") {
			winner, readErr := s.userRepo.GetByEmail(ctx, email)
			if readErr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}
	return created, nil
}

// RequestResetCode starts the password-reset flow. Unknown emails get the
// same acknowledgement with no ledger row written.
func (s *AuthService) RequestResetCode(ctx context.Context, email string) (*CodeResponse, error) {
	defer s.holdLatencyFloor(time.Now())

	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, httperr.New(http.StatusBadRequest, "invalid email address")
	}

	response := &CodeResponse{
		OK:               true,
		Message:          "if the account exists, a reset code has been sent",
		ExpiresInMinutes: s.verifCfg.CodeTTLMinutes,
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.EmailVerified {
		return response, nil
	}

	prior, err := s.verifRepo.Get(ctx, email, models.PurposeResetPassword)
	if err != nil {
		return nil, err
	}
	cooldown := time.Duration(s.verifCfg.ResetCooldownSeconds) * time.Second
	if prior != nil && time.Since(prior.LastSentAt) < cooldown {
		return nil, httperr.New(http.StatusTooManyRequests, "please wait before requesting another code")
	}

	code := generateNumericCode()
	record := &models.EmailVerification{
		ID:        uuid.New().String(),
		Email:     email,
		Purpose:   models.PurposeResetPassword,
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(s.verifCfg.CodeTTL()),
	}
	if err := s.verifRepo.Upsert(ctx, record); err != nil {
		return nil, err
	}

	mailer, ttl := s.mailer, s.verifCfg.CodeTTLMinutes
	fireAndForget("reset-code-email", func(ctx context.Context) error {
		return mailer.SendVerificationCode(ctx, email, code, ttl)
	})
	return response, nil
}

// ResetPassword rotates the password hash and bumps the token version so
// every outstanding credential dies with the old password.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) (*CodeResponse, error) {
	defer s.holdLatencyFloor(time.Now())

	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) || code == "" {
		return nil, errCodeInvalid
	}
	if len(newPassword) < minPasswordLen {
		return nil, httperr.Newf(http.StatusBadRequest, "password must be at least %d characters", minPasswordLen)
	}

	record, err := s.checkLedger(ctx, email, models.PurposeResetPassword, code)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errCodeInvalid
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.userRepo.RotatePassword(ctx, user.ID, string(passwordHash)); err != nil {
		return nil, err
	}

	verifRepo, recordID := s.verifRepo, record.ID
	fireAndForget("reset-ledger-cleanup", func(ctx context.Context) error {
		return verifRepo.Delete(ctx, recordID)
	})
	s.notifications.NotifyDetached(user.ID, "Password changed", "Your password was reset. All other sessions have been signed out.", models.NotificationSystem)

	return &CodeResponse{OK: true, Message: "password has been reset"}, nil
}

// Login checks credentials and issues a token. Wrong email and wrong
// password produce the same message.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	defer s.holdLatencyFloor(time.Now())

	email = normalizeEmail(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, httperr.New(http.StatusUnauthorized, "invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, httperr.New(http.StatusUnauthorized, "invalid email or password")
	}
	if !user.EmailVerified {
		return nil, httperr.New(http.StatusForbidden, "email is not verified")
	}

	token, err := s.SignToken(user.ID, user.TokenVersion)
	if err != nil {
		return nil, err
	}
	partner, err := s.loadPartner(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user, Partner: partner}, nil
}

// Me returns the caller's row plus the live partner row.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, *models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, httperr.New(http.StatusUnauthorized, "unauthorized")
	}
	partner, err := s.loadPartner(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, partner, nil
}

// UpdateProfile applies the provided fields after normalization.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, name, avatar, gender *string) (*models.User, error) {
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, httperr.New(http.StatusBadRequest, "name cannot be empty")
		}
		if len([]rune(trimmed)) > maxNameLen {
			return nil, httperr.Newf(http.StatusBadRequest, "name must be at most %d characters", maxNameLen)
		}
		name = &trimmed
	}
	if gender != nil && *gender != models.GenderMale && *gender != models.GenderFemale {
		return nil, httperr.New(http.StatusBadRequest, "gender must be male or female")
	}

	user, err := s.userRepo.UpdateProfile(ctx, userID, name, avatar, gender)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, httperr.New(http.StatusUnauthorized, "unauthorized")
	}
	return user, nil
}

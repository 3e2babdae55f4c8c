// Package auth covers credential checks, JWT issuance, refresh session
// rotation, and the password reset flow. Users belong to a societe; every
// lookup by email is scoped to the societe resolved from the request context.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultResetTTL   = 24 * time.Hour
)

// Roles assignable to users. Admin unlocks the /admin routes.
const (
	RoleAdmin       = "admin"
	RoleUtilisateur = "utilisateur"
)

// Querier defines the database access required by the auth service.
type Querier interface {
	CreateUser(ctx context.Context, arg store.CreateUserParams) (store.User, error)
	GetUserByEmail(ctx context.Context, arg store.GetUserByEmailParams) (store.User, error)
	GetUser(ctx context.Context, id pgtype.UUID) (store.User, error)
	UpdateUserPassword(ctx context.Context, arg store.UpdateUserPasswordParams) error
	CreateSession(ctx context.Context, arg store.CreateSessionParams) (store.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (store.Session, error)
	RevokeSession(ctx context.Context, id pgtype.UUID) error
	RevokeUserSessions(ctx context.Context, userID pgtype.UUID) error
	CreatePasswordReset(ctx context.Context, arg store.CreatePasswordResetParams) (store.PasswordReset, error)
	GetPasswordResetByTokenHash(ctx context.Context, tokenHash string) (store.PasswordReset, error)
	MarkPasswordResetUsed(ctx context.Context, id pgtype.UUID) error
}

// Service coordinates authentication, password management, and session persistence.
type Service struct {
	queries          Querier
	secret           []byte
	accessTTL        time.Duration
	refreshTTL       time.Duration
	resetTTL         time.Duration
	now              func() time.Time
	signer           jwa.SignatureAlgorithm
	validator        TokenValidator
	issuer           string
	audience         string
	clockSkew        time.Duration
	exposeResetToken bool
}

// Config configures the auth service.
type Config struct {
	Queries         Querier
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	Issuer          string
	Audience        string
	ClockSkew       time.Duration
	// ExposeResetToken returns the raw reset token in the forgot-password
	// response. Development only; production delivers it by email.
	ExposeResetToken bool
}

// User is the safe subset of the user model returned to clients.
type User struct {
	ID        string    `json:"id"`
	SocieteID string    `json:"societe_id"`
	Email     string    `json:"email"`
	Nom       string    `json:"nom,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claims is what an access token carries once validated.
type Claims struct {
	UserID string
	Role   string
}

// LoginResult bundles token material returned after a successful login.
type LoginResult struct {
	User          User      `json:"user"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	AccessExpiry  time.Time `json:"access_expires_at"`
	RefreshExpiry time.Time `json:"refresh_expires_at"`
}

// RefreshResult represents the outcome of a refresh operation.
type RefreshResult struct {
	AccessToken   string    `json:"access_token"`
	AccessExpiry  time.Time `json:"access_expires_at"`
	RefreshToken  string    `json:"refresh_token"`
	RefreshExpiry time.Time `json:"refresh_expires_at"`
}

// ResetIssue reports an initiated password reset. Token is only populated
// when the service is configured to expose it.
type ResetIssue struct {
	Token     string
	ExpiresAt time.Time
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("auth: queries is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	resetTTL := cfg.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTTL
	}

	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-gestion"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "gestion-frontend"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}

	return &Service{
		queries:    cfg.Queries,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		resetTTL:   resetTTL,
		now:        time.Now,
		signer:     jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:           issuer,
		audience:         audience,
		clockSkew:        clockSkew,
		exposeResetToken: cfg.ExposeResetToken,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates a new user inside the current societe.
func (s *Service) Register(ctx context.Context, nom, email, password, role string) (User, error) {
	societeID, err := repo.SocieteUUID(ctx)
	if err != nil {
		return User{}, societeRequired(err)
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" {
		return User{}, common.NewAppError("VALIDATION_ERROR", "email is required", httpStatusBadRequest, nil)
	}
	if len(password) < 8 {
		return User{}, common.NewAppError("VALIDATION_ERROR", "password must be at least 8 characters", httpStatusBadRequest, nil)
	}
	role = strings.TrimSpace(role)
	if role == "" {
		role = RoleUtilisateur
	}
	if role != RoleAdmin && role != RoleUtilisateur {
		return User{}, common.NewAppError("VALIDATION_ERROR", "role must be admin or utilisateur", httpStatusBadRequest, nil)
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.queries.CreateUser(ctx, store.CreateUserParams{
		ID:           store.NewUUID(),
		SocieteID:    societeID,
		Email:        normalizedEmail,
		PasswordHash: hash,
		Nom:          store.TextValue(strings.TrimSpace(nom)),
		Role:         role,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, common.NewAppError("EMAIL_ALREADY_USED", "email is already registered", httpStatusConflict, err)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}

	return convertUser(created), nil
}

// Login verifies credentials within the societe and issues a JWT/refresh pair.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	societeID, err := repo.SocieteUUID(ctx)
	if err != nil {
		return LoginResult{}, societeRequired(err)
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" || password == "" {
		return LoginResult{}, invalidCredentials(nil)
	}

	dbUser, err := s.queries.GetUserByEmail(ctx, store.GetUserByEmailParams{
		SocieteID: societeID,
		Email:     normalizedEmail,
	})
	if err != nil {
		return LoginResult{}, invalidCredentials(nil)
	}

	ok, err := argon2id.ComparePasswordAndHash(password, dbUser.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, invalidCredentials(nil)
	}

	userID := store.UUIDString(dbUser.ID)
	if userID == "" {
		return LoginResult{}, errors.New("auth: invalid user identifier")
	}

	accessToken, accessExpiry, err := s.signAccessToken(userID, dbUser.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshExpiry, err := s.openSession(ctx, dbUser.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("open session: %w", err)
	}

	return LoginResult{
		User:          convertUser(dbUser),
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Logout revokes the session behind the refresh token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil
	}
	session, err := s.queries.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil
	}
	return s.queries.RevokeSession(ctx, session.ID)
}

// Refresh validates a refresh token and rotates the session: the old session
// is revoked and a new one issued, so a stolen token dies on first legitimate use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return RefreshResult{}, invalidRefresh()
	}

	session, err := s.queries.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return RefreshResult{}, invalidRefresh()
	}
	if session.RevokedAt.Valid || !session.ExpiresAt.Valid || s.now().After(session.ExpiresAt.Time) {
		return RefreshResult{}, invalidRefresh()
	}

	dbUser, err := s.queries.GetUser(ctx, session.UserID)
	if err != nil {
		_ = s.queries.RevokeSession(ctx, session.ID)
		return RefreshResult{}, invalidRefresh()
	}

	accessToken, accessExpiry, err := s.signAccessToken(store.UUIDString(dbUser.ID), dbUser.Role)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("sign access token: %w", err)
	}

	newRefresh, refreshExpiry, err := s.openSession(ctx, session.UserID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("open session: %w", err)
	}
	if err := s.queries.RevokeSession(ctx, session.ID); err != nil {
		return RefreshResult{}, fmt.Errorf("revoke session: %w", err)
	}

	return RefreshResult{
		AccessToken:   accessToken,
		AccessExpiry:  accessExpiry,
		RefreshToken:  newRefresh,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Me fetches the current authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, unauthorized(nil)
	}
	id, err := store.UUIDValue(userID)
	if err != nil {
		return User{}, unauthorized(err)
	}
	dbUser, err := s.queries.GetUser(ctx, id)
	if err != nil {
		return User{}, unauthorized(err)
	}
	return convertUser(dbUser), nil
}

// Forgot creates a password reset token and dispatches it via the sender.
// Unknown emails are silently accepted to avoid account enumeration.
func (s *Service) Forgot(ctx context.Context, email, baseURL string, sender common.EmailSender) (ResetIssue, error) {
	societeID, err := repo.SocieteUUID(ctx)
	if err != nil {
		return ResetIssue{}, societeRequired(err)
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" {
		return ResetIssue{}, nil
	}

	user, err := s.queries.GetUserByEmail(ctx, store.GetUserByEmailParams{
		SocieteID: societeID,
		Email:     normalizedEmail,
	})
	if err != nil {
		return ResetIssue{}, nil
	}

	token, err := generateToken(32)
	if err != nil {
		return ResetIssue{}, fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := s.now().Add(s.resetTTL)

	if _, err := s.queries.CreatePasswordReset(ctx, store.CreatePasswordResetParams{
		ID:        store.NewUUID(),
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: store.TimestamptzValue(expiresAt),
	}); err != nil {
		return ResetIssue{}, fmt.Errorf("create password reset: %w", err)
	}

	if sender != nil {
		base := strings.TrimRight(baseURL, "/")
		link := fmt.Sprintf("%s/reset?token=%s", base, token)
		if err := sender.Send(user.Email, "Réinitialisation du mot de passe",
			"Suivez ce lien pour choisir un nouveau mot de passe : "+link); err != nil {
			return ResetIssue{}, fmt.Errorf("send reset email: %w", err)
		}
	}

	issue := ResetIssue{ExpiresAt: expiresAt}
	if s.exposeResetToken {
		issue.Token = token
	}
	return issue, nil
}

// Reset validates the provided token, updates the password, and revokes
// every open session of the user.
func (s *Service) Reset(ctx context.Context, token, newPassword string) error {
	trimmedToken := strings.TrimSpace(token)
	if trimmedToken == "" {
		return invalidResetToken()
	}
	if len(newPassword) < 8 {
		return common.NewAppError("WEAK_PASSWORD", "password must be at least 8 characters", httpStatusBadRequest, nil)
	}

	reset, err := s.queries.GetPasswordResetByTokenHash(ctx, hashToken(trimmedToken))
	if err != nil {
		return invalidResetToken()
	}
	if reset.UsedAt.Valid || !reset.ExpiresAt.Valid || s.now().After(reset.ExpiresAt.Time) {
		return invalidResetToken()
	}

	hash, err := argon2id.CreateHash(newPassword, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.queries.UpdateUserPassword(ctx, store.UpdateUserPasswordParams{ID: reset.UserID, PasswordHash: hash}); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.queries.MarkPasswordResetUsed(ctx, reset.ID); err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	if err := s.queries.RevokeUserSessions(ctx, reset.UserID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	return nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, unauthorized(nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return Claims{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	// Claim validation happens below through the validator so the service
	// clock is honoured. ParseString only checks the signature here.
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return Claims{}, unauthorized(err)
	}
	claims := Claims{UserID: parsed.Subject()}
	if role, ok := parsed.Get("role"); ok {
		if value, ok := role.(string); ok {
			claims.Role = value
		}
	}
	return claims, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

func (s *Service) signAccessToken(userID, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	builder := jwt.NewBuilder().
		Subject(userID).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim("role", role)
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func (s *Service) openSession(ctx context.Context, userID pgtype.UUID) (string, time.Time, error) {
	if !userID.Valid {
		return "", time.Time{}, errors.New("auth: invalid user identifier")
	}
	token, err := generateToken(48)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.refreshTTL)
	if _, err := s.queries.CreateSession(ctx, store.CreateSessionParams{
		ID:               store.NewUUID(),
		UserID:           userID,
		RefreshTokenHash: hashToken(token),
		ExpiresAt:        store.TimestamptzValue(expiresAt),
	}); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func convertUser(u store.User) User {
	return User{
		ID:        store.UUIDString(u.ID),
		SocieteID: store.UUIDString(u.SocieteID),
		Email:     u.Email,
		Nom:       store.TextString(u.Nom),
		Role:      u.Role,
		CreatedAt: toTime(u.CreatedAt),
		UpdatedAt: toTime(u.UpdatedAt),
	}
}

func toTime(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}

func societeRequired(err error) *common.AppError {
	return common.NewAppError("SOCIETE_REQUIRED", "societe is required", httpStatusBadRequest, err)
}

func invalidCredentials(err error) *common.AppError {
	return common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", httpStatusUnauthorized, err)
}

func invalidRefresh() *common.AppError {
	return common.NewAppError("UNAUTHORIZED", "invalid refresh token", httpStatusUnauthorized, nil)
}

func invalidResetToken() *common.AppError {
	return common.NewAppError("INVALID_TOKEN", "invalid or expired token", httpStatusBadRequest, nil)
}

func unauthorized(err error) *common.AppError {
	return common.NewAppError("UNAUTHORIZED", "missing or invalid token", httpStatusUnauthorized, err)
}

const httpStatusBadRequest = 400
const httpStatusUnauthorized = 401
const httpStatusConflict = 409

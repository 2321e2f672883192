package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"pokemeetup-server/internal/domain/player"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrMissingFields      = errors.New("username and password are required")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// ValidUsername reports whether name is 3-20 letters, digits or underscores.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// Service is the credential store. Usernames are matched case-insensitively
// but stored with their original casing.
type Service struct {
	users     userStore
	jwtSecret []byte
	jwtTTL    time.Duration
}

type AuthResult struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Token    string    `json:"token"`
}

func newService(users userStore, jwtSecret string, jwtTTL time.Duration) *Service {
	return &Service{users: users, jwtSecret: []byte(jwtSecret), jwtTTL: jwtTTL}
}

func (s *Service) CheckExists(ctx context.Context, username string) (bool, error) {
	_, _, found, err := s.users.lookup(ctx, usernameKey(username))
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return found, nil
}

// VerifyPassword returns ErrInvalidCredentials for unknown users and wrong
// passwords alike. On success it returns the stored username casing.
func (s *Service) VerifyPassword(ctx context.Context, username, password string) (string, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	key := usernameKey(username)
	stored, hash, found, err := s.users.lookup(ctx, key)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		return "", ErrInvalidCredentials
	}
	ok, err := verifyPassword(hash, password)
	if err != nil || !ok {
		return "", ErrInvalidCredentials
	}
	if err := s.users.touchLogin(ctx, key, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("record login: %w", err)
	}
	return stored, nil
}

func (s *Service) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrMissingFields
	}
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}
	exists, err := s.CheckExists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return ErrUsernameTaken
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.users.insert(ctx, player.IDFor(username), username, usernameKey(username), hash)
	if err != nil {
		if isDuplicate(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Login verifies the password and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (AuthResult, error) {
	stored, err := s.VerifyPassword(ctx, username, password)
	if err != nil {
		return AuthResult{}, err
	}
	token, err := s.IssueToken(stored)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{UserID: player.IDFor(stored), Username: stored, Token: token}, nil
}

// ParseToken validates a session token and returns the username it was
// issued for.
func (s *Service) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidCredentials
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCredentials
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return "", ErrInvalidCredentials
	}
	name, ok := claims["username"].(string)
	if !ok || !ValidUsername(name) {
		return "", ErrInvalidCredentials
	}
	uid, err := uuid.Parse(sub)
	if err != nil || uid != player.IDFor(name) {
		return "", ErrInvalidCredentials
	}
	return name, nil
}

func (s *Service) IssueToken(username string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":      player.IDFor(username).String(),
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(s.jwtTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	const memory = 64 * 1024
	const iterations = 3
	const parallelism = 2
	const keyLength = 32
	hash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, keyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", memory, iterations, parallelism, b64Salt, b64Hash), nil
}

func verifyPassword(encodedHash, password string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}
	var memory uint32
	var iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("parse hash params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(hash)))
	if len(computed) != len(hash) {
		return false, nil
	}
	var diff byte
	for i := range hash {
		diff |= hash[i] ^ computed[i]
	}
	return diff == 0, nil
}

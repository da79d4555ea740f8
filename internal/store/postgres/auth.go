package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"queuematic/internal/models"
	"queuematic/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

func (s *Store) Login(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var user models.User
	var branchID sql.NullString
	var passwordHash string
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, username, name, role, branch_id, password_hash, created_at
		FROM users
		WHERE lower(username) = lower($1) AND active = TRUE
	`, input.Username)
	if err := row.Scan(&user.UserID, &user.Username, &user.Name, &user.Role, &branchID, &passwordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.LoginResult{}, store.ErrInvalidCredentials
		}
		return store.LoginResult{}, err
	}
	if branchID.Valid {
		user.BranchID = branchID.String
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(input.Password)); err != nil {
		return store.LoginResult{}, store.ErrInvalidCredentials
	}

	session := models.AuthSession{
		Token:     uuid.NewString(),
		UserID:    user.UserID,
		Role:      user.Role,
		BranchID:  user.BranchID,
		ExpiresAt: time.Now().UTC().Add(s.authSessionTTL),
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO auth_sessions (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, session.Token, session.UserID, session.ExpiresAt); err != nil {
		return store.LoginResult{}, err
	}

	return store.LoginResult{User: user, Session: session}, nil
}

func (s *Store) GetAuthSession(ctx context.Context, token string) (models.AuthSession, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var session models.AuthSession
	var branchID sql.NullString
	row := s.pool.QueryRow(ctx, `
		SELECT a.token, a.user_id, a.expires_at, u.role, u.branch_id
		FROM auth_sessions a
		JOIN users u ON u.user_id = a.user_id
		WHERE a.token = $1 AND u.active = TRUE
	`, token)
	if err := row.Scan(&session.Token, &session.UserID, &session.ExpiresAt, &session.Role, &branchID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AuthSession{}, store.ErrSessionNotFound
		}
		return models.AuthSession{}, err
	}
	if branchID.Valid {
		session.BranchID = branchID.String
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		return models.AuthSession{}, store.ErrAuthSessionExpired
	}
	return session, nil
}

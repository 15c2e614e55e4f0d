package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
)

type userRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, role, phone, encryption_key_id, cancelled_bookings, created_at, updated_at, deleted_at`

func scanUser(s scanner) (*domain.User, error) {
	u := &domain.User{}
	var keyID sql.NullInt32
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Phone, &keyID, &u.CancelledBookings, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if err != nil {
		return nil, err
	}
	u.EncryptionKeyID = keyID.Int32
	return u, nil
}

func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (name, email, role, phone, encryption_key_id, cancelled_bookings, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	var keyID sql.NullInt32
	if u.EncryptionKeyID != 0 {
		keyID = sql.NullInt32{Int32: u.EncryptionKeyID, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query, u.Name, u.Email, u.Role, u.Phone, keyID, u.CancelledBookings, u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
	return mapError(err)
}

func (r *userRepository) GetByID(ctx context.Context, id int32, inc repository.Inclusion) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1` + deletedFilter(inc)
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (r *userRepository) IncrementCancelledBookings(ctx context.Context, id int32) error {
	logger.DatabaseCall("UPDATE", "users.cancelled_bookings", "userID", id)
	res, err := r.db.ExecContext(ctx, `UPDATE users SET cancelled_bookings = cancelled_bookings + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment cancelled bookings: %w", err)
	}
	return expectOne(res, repository.ErrNotFound)
}

type encryptionKeyRepository struct {
	db DBTX
}

func NewEncryptionKeyRepository(db DBTX) repository.EncryptionKeyRepository {
	return &encryptionKeyRepository{db: db}
}

func (r *encryptionKeyRepository) Create(ctx context.Context, k *domain.EncryptionKey) error {
	query := `INSERT INTO encryption_keys (encrypted_key, iv, created_at) VALUES ($1, $2, $3) RETURNING id`
	return mapError(r.db.QueryRowContext(ctx, query, k.EncryptedKey, k.IV, k.CreatedAt).Scan(&k.ID))
}

func (r *encryptionKeyRepository) GetByID(ctx context.Context, id int32) (*domain.EncryptionKey, error) {
	k := &domain.EncryptionKey{}
	query := `SELECT id, encrypted_key, iv, created_at FROM encryption_keys WHERE id = $1`
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&k.ID, &k.EncryptedKey, &k.IV, &k.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return k, nil
}

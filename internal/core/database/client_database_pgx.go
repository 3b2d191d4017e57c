package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/healthchat-app/HealthChat/internal/config"
	"github.com/healthchat-app/HealthChat/internal/core"
	"github.com/healthchat-app/HealthChat/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.ProfileStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) CreateProfile(ctx context.Context, p *models.Profile) error {
	if p == nil {
		return errors.New("nil profile")
	}
	fileJSON, err := marshalRefs(p.FileRefs)
	if err != nil {
		return err
	}
	familyJSON, err := marshalFamily(p.FamilyMembers)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO profiles
			(email, password_hash, role, full_name, phone_number, age, gender,
			 existing_diseases, allergies, current_medicines,
			 file_urls, family_members, chat_history, is_banned, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
	`
	_, err = c.db.ExecContext(ctx, q,
		p.Email, p.PasswordHash, p.Role, p.FullName, p.PhoneNumber, p.Age, p.Gender,
		p.ExistingDiseases, p.Allergies, p.CurrentMedicines,
		fileJSON, familyJSON, nullableJSON(p.ChatHistory), p.IsBanned)
	return err
}

func (c *DatabaseClient) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	const q = `
		SELECT email, password_hash, role, full_name, phone_number, age, gender,
		       existing_diseases, allergies, current_medicines,
		       file_urls, family_members, chat_history, is_banned, created_at, updated_at
		FROM profiles WHERE email = $1
	`
	var (
		p           models.Profile
		fileJSON    []byte
		familyJSON  []byte
		historyJSON []byte
	)
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&p.Email, &p.PasswordHash, &p.Role, &p.FullName, &p.PhoneNumber, &p.Age, &p.Gender,
		&p.ExistingDiseases, &p.Allergies, &p.CurrentMedicines,
		&fileJSON, &familyJSON, &historyJSON, &p.IsBanned, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fileJSON, &p.FileRefs); err != nil {
		return nil, fmt.Errorf("decode file_urls for %s: %w", email, err)
	}
	if err := json.Unmarshal(familyJSON, &p.FamilyMembers); err != nil {
		return nil, fmt.Errorf("decode family_members for %s: %w", email, err)
	}
	p.ChatHistory = historyJSON
	return &p, nil
}

func (c *DatabaseClient) UpdateProfile(ctx context.Context, email string, upd *models.ProfileUpdate) error {
	if upd == nil {
		return errors.New("nil profile update")
	}
	fileJSON, err := marshalRefs(upd.FileRefs)
	if err != nil {
		return err
	}
	familyJSON, err := marshalFamily(upd.FamilyMembers)
	if err != nil {
		return err
	}

	const q = `
		UPDATE profiles
		SET full_name = $2, age = $3, gender = $4,
		    existing_diseases = $5, allergies = $6, current_medicines = $7,
		    file_urls = $8, family_members = $9, updated_at = now()
		WHERE email = $1
	`
	res, err := c.db.ExecContext(ctx, q,
		email, upd.FullName, upd.Age, upd.Gender,
		upd.ExistingDiseases, upd.Allergies, upd.CurrentMedicines,
		fileJSON, familyJSON)
	if err != nil {
		return err
	}
	return requireRow(res, email)
}

func (c *DatabaseClient) UpdateChatHistory(ctx context.Context, email string, history json.RawMessage) error {
	const q = `
		UPDATE profiles
		SET chat_history = $2, updated_at = now()
		WHERE email = $1
	`
	res, err := c.db.ExecContext(ctx, q, email, []byte(history))
	if err != nil {
		return err
	}
	return requireRow(res, email)
}

// UpdateFamilyChatHistory rewrites one element of the family_members array
// in place. The whole array is the unit of ownership, so this stays a
// single-statement write on the aggregate row.
func (c *DatabaseClient) UpdateFamilyChatHistory(ctx context.Context, email, memberID string, history json.RawMessage) error {
	const q = `
		UPDATE profiles
		SET family_members = (
			SELECT COALESCE(jsonb_agg(
				CASE WHEN elem->>'id' = $2
				     THEN jsonb_set(elem, '{chat_history}', $3::jsonb)
				     ELSE elem
				END), '[]'::jsonb)
			FROM jsonb_array_elements(family_members) AS elem
		), updated_at = now()
		WHERE email = $1
	`
	res, err := c.db.ExecContext(ctx, q, email, memberID, []byte(history))
	if err != nil {
		return err
	}
	return requireRow(res, email)
}

func (c *DatabaseClient) UpdateFileRefs(ctx context.Context, email string, refs []models.FileRef) error {
	fileJSON, err := marshalRefs(refs)
	if err != nil {
		return err
	}
	const q = `
		UPDATE profiles
		SET file_urls = $2, updated_at = now()
		WHERE email = $1
	`
	res, err := c.db.ExecContext(ctx, q, email, fileJSON)
	if err != nil {
		return err
	}
	return requireRow(res, email)
}

func (c *DatabaseClient) UpdateFamilyFileRefs(ctx context.Context, email, memberID string, refs []models.FileRef) error {
	fileJSON, err := marshalRefs(refs)
	if err != nil {
		return err
	}
	const q = `
		UPDATE profiles
		SET family_members = (
			SELECT COALESCE(jsonb_agg(
				CASE WHEN elem->>'id' = $2
				     THEN jsonb_set(elem, '{file_urls}', $3::jsonb)
				     ELSE elem
				END), '[]'::jsonb)
			FROM jsonb_array_elements(family_members) AS elem
		), updated_at = now()
		WHERE email = $1
	`
	res, err := c.db.ExecContext(ctx, q, email, memberID, fileJSON)
	if err != nil {
		return err
	}
	return requireRow(res, email)
}

func (c *DatabaseClient) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	const q = `
		SELECT email, role, full_name, phone_number, age, gender, is_banned, created_at, updated_at
		FROM profiles
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(
			&p.Email, &p.Role, &p.FullName, &p.PhoneNumber, &p.Age, &p.Gender,
			&p.IsBanned, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) SetBanned(ctx context.Context, email string, banned bool) error {
	const q = `
		UPDATE profiles
		SET is_banned = $2, updated_at = now()
		WHERE email = $1
	`
	res, err := c.db.ExecContext(ctx, q, email, banned)
	if err != nil {
		return err
	}
	return requireRow(res, email)
}

// DeleteProfile removes the aggregate row; family members and every
// patient's session history live inside it, so the cascade is the delete.
func (c *DatabaseClient) DeleteProfile(ctx context.Context, email string) error {
	const q = `DELETE FROM profiles WHERE email = $1`
	res, err := c.db.ExecContext(ctx, q, email)
	if err != nil {
		return err
	}
	return requireRow(res, email)
}

func requireRow(res sql.Result, email string) error {
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("profile not found: %s", email)
	}
	return nil
}

func marshalRefs(refs []models.FileRef) ([]byte, error) {
	if refs == nil {
		refs = []models.FileRef{}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("encode file_urls: %w", err)
	}
	return b, nil
}

func marshalFamily(members []models.FamilyMember) ([]byte, error) {
	if members == nil {
		members = []models.FamilyMember{}
	}
	b, err := json.Marshal(members)
	if err != nil {
		return nil, fmt.Errorf("encode family_members: %w", err)
	}
	return b, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

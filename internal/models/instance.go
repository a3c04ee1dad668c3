// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/autobrr/sanitarr/internal/dbinterface"
)

var ErrInstanceNotFound = errors.New("instance not found")

// InstanceType represents the kind of media manager behind an instance.
type InstanceType string

const (
	InstanceTypeSonarr   InstanceType = "sonarr"
	InstanceTypeRadarr   InstanceType = "radarr"
	InstanceTypeProwlarr InstanceType = "prowlarr"
)

// ParseInstanceType validates and normalizes an instance type string.
func ParseInstanceType(value string) (InstanceType, error) {
	switch InstanceType(strings.ToLower(value)) {
	case InstanceTypeSonarr:
		return InstanceTypeSonarr, nil
	case InstanceTypeRadarr:
		return InstanceTypeRadarr, nil
	case InstanceTypeProwlarr:
		return InstanceTypeProwlarr, nil
	default:
		return "", fmt.Errorf("invalid instance type: %s (must be 'sonarr', 'radarr' or 'prowlarr')", value)
	}
}

// Instance represents one configured Sonarr/Radarr/Prowlarr instance whose
// download queue gets cleaned. The optional download client fields point at
// the qBittorrent instance the arr feeds, used for category changes.
type Instance struct {
	ID                              int          `json:"id"`
	Type                            InstanceType `json:"type"`
	Name                            string       `json:"name"`
	BaseURL                         string       `json:"baseUrl"`
	APIKeyEncrypted                 string       `json:"-"`
	DownloadClientHost              *string      `json:"downloadClientHost,omitempty"`
	DownloadClientUsername          *string      `json:"downloadClientUsername,omitempty"`
	DownloadClientPasswordEncrypted *string      `json:"-"`
	Enabled                         bool         `json:"enabled"`
	TimeoutSeconds                  int          `json:"timeoutSeconds"`
	LastTestAt                      *time.Time   `json:"lastTestAt,omitempty"`
	LastTestStatus                  string       `json:"lastTestStatus"`
	LastTestError                   *string      `json:"lastTestError,omitempty"`
	CreatedAt                       time.Time    `json:"createdAt"`
	UpdatedAt                       time.Time    `json:"updatedAt"`
}

// InstanceUpdateParams captures optional fields for updating an instance.
type InstanceUpdateParams struct {
	Name                   *string
	BaseURL                *string
	APIKey                 *string
	DownloadClientHost     *string
	DownloadClientUsername *string
	DownloadClientPassword *string
	Enabled                *bool
	TimeoutSeconds         *int
}

// InstanceStore manages instances in the database. API keys and download
// client passwords are encrypted at rest with AES-GCM.
type InstanceStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewInstanceStore(db dbinterface.Querier, encryptionKey []byte) (*InstanceStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &InstanceStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

func (s *InstanceStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *InstanceStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

func (s *InstanceStore) Create(ctx context.Context, instanceType InstanceType, name, baseURL, apiKey string, enabled bool, timeoutSeconds int) (*Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("instance name is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("instance base URL is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("instance API key is required")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	encryptedKey, err := s.encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt API key: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (type, name, base_url, api_key_encrypted, enabled, timeout_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(instanceType), name, baseURL, encryptedKey, enabled, timeoutSeconds)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

const instanceColumns = `
	id, type, name, base_url, api_key_encrypted,
	download_client_host, download_client_username, download_client_password_encrypted,
	enabled, timeout_seconds, last_test_at, last_test_status, last_test_error,
	created_at, updated_at
`

func scanInstance(row interface{ Scan(...any) error }) (*Instance, error) {
	var instance Instance
	var instanceType string
	if err := row.Scan(
		&instance.ID,
		&instanceType,
		&instance.Name,
		&instance.BaseURL,
		&instance.APIKeyEncrypted,
		&instance.DownloadClientHost,
		&instance.DownloadClientUsername,
		&instance.DownloadClientPasswordEncrypted,
		&instance.Enabled,
		&instance.TimeoutSeconds,
		&instance.LastTestAt,
		&instance.LastTestStatus,
		&instance.LastTestError,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	); err != nil {
		return nil, err
	}
	instance.Type = InstanceType(instanceType)
	return &instance, nil
}

func (s *InstanceStore) Get(ctx context.Context, id int) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)

	instance, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func (s *InstanceStore) List(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY type ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

func (s *InstanceStore) ListEnabled(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE enabled = 1 ORDER BY type ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

func (s *InstanceStore) Update(ctx context.Context, id int, params *InstanceUpdateParams) (*Instance, error) {
	if params == nil {
		return s.Get(ctx, id)
	}

	var sets []string
	var args []any

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return nil, errors.New("instance name cannot be empty")
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if params.BaseURL != nil {
		baseURL := strings.TrimRight(strings.TrimSpace(*params.BaseURL), "/")
		if baseURL == "" {
			return nil, errors.New("instance base URL cannot be empty")
		}
		sets = append(sets, "base_url = ?")
		args = append(args, baseURL)
	}
	if params.APIKey != nil && strings.TrimSpace(*params.APIKey) != "" {
		encrypted, err := s.encrypt(*params.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt API key: %w", err)
		}
		sets = append(sets, "api_key_encrypted = ?")
		args = append(args, encrypted)
	}
	if params.DownloadClientHost != nil {
		host := strings.TrimSpace(*params.DownloadClientHost)
		if host == "" {
			sets = append(sets, "download_client_host = NULL", "download_client_username = NULL", "download_client_password_encrypted = NULL")
		} else {
			sets = append(sets, "download_client_host = ?")
			args = append(args, host)
		}
	}
	if params.DownloadClientUsername != nil {
		sets = append(sets, "download_client_username = ?")
		args = append(args, strings.TrimSpace(*params.DownloadClientUsername))
	}
	if params.DownloadClientPassword != nil {
		encrypted, err := s.encrypt(*params.DownloadClientPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt download client password: %w", err)
		}
		sets = append(sets, "download_client_password_encrypted = ?")
		args = append(args, encrypted)
	}
	if params.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *params.Enabled)
	}
	if params.TimeoutSeconds != nil {
		if *params.TimeoutSeconds <= 0 {
			return nil, errors.New("timeout must be positive")
		}
		sets = append(sets, "timeout_seconds = ?")
		args = append(args, *params.TimeoutSeconds)
	}

	if len(sets) == 0 {
		return s.Get(ctx, id)
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE instances SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, ErrInstanceNotFound
	}

	return s.Get(ctx, id)
}

func (s *InstanceStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// UpdateTestStatus records the outcome of a connectivity test.
func (s *InstanceStore) UpdateTestStatus(ctx context.Context, id int, status string, errorMsg *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET last_test_at = CURRENT_TIMESTAMP, last_test_status = ?, last_test_error = ?
		WHERE id = ?
	`, status, errorMsg, id)
	return err
}

// GetDecryptedAPIKey returns the plaintext API key for an instance.
func (s *InstanceStore) GetDecryptedAPIKey(instance *Instance) (string, error) {
	return s.decrypt(instance.APIKeyEncrypted)
}

// GetDecryptedDownloadClientPassword returns the plaintext download client
// password, or empty when no download client is configured.
func (s *InstanceStore) GetDecryptedDownloadClientPassword(instance *Instance) (string, error) {
	if instance.DownloadClientPasswordEncrypted == nil || *instance.DownloadClientPasswordEncrypted == "" {
		return "", nil
	}
	return s.decrypt(*instance.DownloadClientPasswordEncrypted)
}

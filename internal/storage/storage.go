package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

// AntinukeConfig is the per-guild antinuke settings row. Empty string means
// unset for the id columns.
type AntinukeConfig struct {
	GuildID          string
	Enabled          bool
	NightmodeEnabled bool
	ExtraOwnerID     string
	LogChannelID     string
	UpdatedBy        string
}

// AntinukeConfigPatch updates only its non-nil fields. A non-nil pointer to
// an empty string clears the column.
type AntinukeConfigPatch struct {
	GuildID          string
	Enabled          *bool
	NightmodeEnabled *bool
	ExtraOwnerID     *string
	LogChannelID     *string
	UpdatedBy        string
}

// AntinukeWhitelistUser records which feature keys a user may exercise
// without triggering enforcement. An empty Features slice is the legacy
// full-trust marker.
type AntinukeWhitelistUser struct {
	GuildID   string
	UserID    string
	Features  []string
	AddedBy   string
	CreatedAt time.Time
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetAntinukeConfig(ctx context.Context, guildID string) (AntinukeConfig, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT enabled, nightmode_enabled, COALESCE(extra_owner_id, ''),
		COALESCE(log_channel_id, ''), COALESCE(updated_by, '')
		FROM antinuke_configs WHERE guild_id = ?`, guildID)

	config := AntinukeConfig{GuildID: guildID}
	var enabled, nightmode int
	err := row.Scan(&enabled, &nightmode, &config.ExtraOwnerID, &config.LogChannelID, &config.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return config, false, nil
		}
		return AntinukeConfig{}, false, err
	}
	config.Enabled = enabled == 1
	config.NightmodeEnabled = nightmode == 1
	return config, true, nil
}

// UpsertAntinukeConfig merges the patch into the stored row (creating it
// with defaults first) and returns the merged result. The read and write
// share a transaction so concurrent writers serialize at the store.
func (s *Store) UpsertAntinukeConfig(ctx context.Context, patch AntinukeConfigPatch) (AntinukeConfig, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AntinukeConfig{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	config := AntinukeConfig{GuildID: patch.GuildID}
	var enabled, nightmode int
	row := tx.QueryRowContext(ctx, `
		SELECT enabled, nightmode_enabled, COALESCE(extra_owner_id, ''),
		COALESCE(log_channel_id, ''), COALESCE(updated_by, '')
		FROM antinuke_configs WHERE guild_id = ?`, patch.GuildID)
	scanErr := row.Scan(&enabled, &nightmode, &config.ExtraOwnerID, &config.LogChannelID, &config.UpdatedBy)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return AntinukeConfig{}, err
	}
	config.Enabled = enabled == 1
	config.NightmodeEnabled = nightmode == 1

	if patch.Enabled != nil {
		config.Enabled = *patch.Enabled
	}
	if patch.NightmodeEnabled != nil {
		config.NightmodeEnabled = *patch.NightmodeEnabled
	}
	if patch.ExtraOwnerID != nil {
		config.ExtraOwnerID = *patch.ExtraOwnerID
	}
	if patch.LogChannelID != nil {
		config.LogChannelID = *patch.LogChannelID
	}
	config.UpdatedBy = patch.UpdatedBy

	_, err = tx.ExecContext(ctx, `
		INSERT INTO antinuke_configs (guild_id, enabled, nightmode_enabled, extra_owner_id, log_channel_id, updated_by)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			nightmode_enabled = excluded.nightmode_enabled,
			extra_owner_id = excluded.extra_owner_id,
			log_channel_id = excluded.log_channel_id,
			updated_by = excluded.updated_by
	`,
		config.GuildID,
		boolToInt(config.Enabled),
		boolToInt(config.NightmodeEnabled),
		nullIfEmpty(config.ExtraOwnerID),
		nullIfEmpty(config.LogChannelID),
		nullIfEmpty(config.UpdatedBy),
	)
	if err != nil {
		return AntinukeConfig{}, err
	}
	if err = tx.Commit(); err != nil {
		return AntinukeConfig{}, err
	}
	return config, nil
}

func (s *Store) GetAntinukeWhitelistUser(ctx context.Context, guildID, userID string) (AntinukeWhitelistUser, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT features, COALESCE(added_by, ''), created_at
		FROM antinuke_whitelist WHERE guild_id = ? AND user_id = ?`, guildID, userID)

	entry := AntinukeWhitelistUser{GuildID: guildID, UserID: userID}
	var features string
	var created int64
	err := row.Scan(&features, &entry.AddedBy, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AntinukeWhitelistUser{}, false, nil
		}
		return AntinukeWhitelistUser{}, false, err
	}
	entry.Features = splitFeatures(features)
	entry.CreatedAt = time.Unix(created, 0)
	return entry, true, nil
}

func (s *Store) UpsertAntinukeWhitelistUser(ctx context.Context, entry AntinukeWhitelistUser) (AntinukeWhitelistUser, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO antinuke_whitelist (guild_id, user_id, features, added_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			features = excluded.features,
			added_by = excluded.added_by
	`, entry.GuildID, entry.UserID, joinFeatures(entry.Features), nullIfEmpty(entry.AddedBy), entry.CreatedAt.Unix())
	if err != nil {
		return AntinukeWhitelistUser{}, err
	}
	stored, found, err := s.GetAntinukeWhitelistUser(ctx, entry.GuildID, entry.UserID)
	if err != nil {
		return AntinukeWhitelistUser{}, err
	}
	if !found {
		return entry, nil
	}
	return stored, nil
}

func (s *Store) DeleteAntinukeWhitelistUser(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM antinuke_whitelist WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return err
}

func (s *Store) ListAntinukeWhitelist(ctx context.Context, guildID string) ([]AntinukeWhitelistUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, features, COALESCE(added_by, ''), created_at
		FROM antinuke_whitelist WHERE guild_id = ? ORDER BY created_at, user_id`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AntinukeWhitelistUser
	for rows.Next() {
		entry := AntinukeWhitelistUser{GuildID: guildID}
		var features string
		var created int64
		if err := rows.Scan(&entry.UserID, &features, &entry.AddedBy, &created); err != nil {
			return nil, err
		}
		entry.Features = splitFeatures(features)
		entry.CreatedAt = time.Unix(created, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteGuildAntinukeWhitelist(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM antinuke_whitelist WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
	return err
}

func joinFeatures(features []string) string {
	return strings.Join(features, ",")
}

func splitFeatures(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	features := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			features = append(features, part)
		}
	}
	return features
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type AfkEntry struct {
	GuildID string
	UserID  string
	Reason  string
	Since   time.Time
}

func (s *Store) GetGuildPrefix(ctx context.Context, guildID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT prefix FROM guild_prefixes WHERE guild_id = ?`, guildID)
	var prefix string
	if err := row.Scan(&prefix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return prefix, nil
}

func (s *Store) SetGuildPrefix(ctx context.Context, guildID, prefix string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_prefixes (guild_id, prefix) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET prefix = excluded.prefix
	`, guildID, prefix)
	return err
}

func (s *Store) DeleteGuildPrefix(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guild_prefixes WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) GetAfkEntry(ctx context.Context, guildID, userID string) (AfkEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT reason, since FROM afk_entries WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	entry := AfkEntry{GuildID: guildID, UserID: userID}
	var since int64
	if err := row.Scan(&entry.Reason, &since); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AfkEntry{}, false, nil
		}
		return AfkEntry{}, false, err
	}
	entry.Since = time.Unix(since, 0)
	return entry, true, nil
}

func (s *Store) SetAfkEntry(ctx context.Context, entry AfkEntry) error {
	if entry.Since.IsZero() {
		entry.Since = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO afk_entries (guild_id, user_id, reason, since) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET reason = excluded.reason, since = excluded.since
	`, entry.GuildID, entry.UserID, entry.Reason, entry.Since.Unix())
	return err
}

func (s *Store) ClearAfkEntry(ctx context.Context, guildID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM afk_entries WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) AddNoPrefixUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO noprefix_users (user_id, added_at) VALUES (?, ?)`, userID, time.Now().Unix())
	return err
}

func (s *Store) RemoveNoPrefixUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM noprefix_users WHERE user_id = ?`, userID)
	return err
}

func (s *Store) ListNoPrefixUsers(ctx context.Context) ([]string, error) {
	return s.listUserIDs(ctx, `SELECT user_id FROM noprefix_users ORDER BY added_at`)
}

func (s *Store) AddBlacklistUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO blacklist_users (user_id, added_at) VALUES (?, ?)`, userID, time.Now().Unix())
	return err
}

func (s *Store) RemoveBlacklistUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blacklist_users WHERE user_id = ?`, userID)
	return err
}

func (s *Store) ListBlacklistUsers(ctx context.Context) ([]string, error) {
	return s.listUserIDs(ctx, `SELECT user_id FROM blacklist_users ORDER BY added_at`)
}

func (s *Store) listUserIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"errors"
)

// GreetConfig is the per-guild welcome-message settings row. Empty string
// means unset for the id and template columns.
type GreetConfig struct {
	GuildID           string
	Enabled           bool
	ChannelID         string
	MessageTemplate   string
	AutoDeleteSeconds int
}

// GreetConfigPatch updates only its non-nil fields, like AntinukeConfigPatch.
type GreetConfigPatch struct {
	GuildID           string
	Enabled           *bool
	ChannelID         *string
	MessageTemplate   *string
	AutoDeleteSeconds *int
}

func (s *Store) GetGreetConfig(ctx context.Context, guildID string) (GreetConfig, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT enabled, COALESCE(channel_id, ''), COALESCE(message_template, ''), auto_delete_seconds
		FROM greet_configs WHERE guild_id = ?`, guildID)

	config := GreetConfig{GuildID: guildID}
	var enabled int
	err := row.Scan(&enabled, &config.ChannelID, &config.MessageTemplate, &config.AutoDeleteSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return config, false, nil
		}
		return GreetConfig{}, false, err
	}
	config.Enabled = enabled == 1
	return config, true, nil
}

// UpsertGreetConfig merges the patch into the stored row inside one
// transaction and returns the merged result.
func (s *Store) UpsertGreetConfig(ctx context.Context, patch GreetConfigPatch) (GreetConfig, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GreetConfig{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	config := GreetConfig{GuildID: patch.GuildID}
	var enabled int
	row := tx.QueryRowContext(ctx, `
		SELECT enabled, COALESCE(channel_id, ''), COALESCE(message_template, ''), auto_delete_seconds
		FROM greet_configs WHERE guild_id = ?`, patch.GuildID)
	scanErr := row.Scan(&enabled, &config.ChannelID, &config.MessageTemplate, &config.AutoDeleteSeconds)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return GreetConfig{}, err
	}
	config.Enabled = enabled == 1

	if patch.Enabled != nil {
		config.Enabled = *patch.Enabled
	}
	if patch.ChannelID != nil {
		config.ChannelID = *patch.ChannelID
	}
	if patch.MessageTemplate != nil {
		config.MessageTemplate = *patch.MessageTemplate
	}
	if patch.AutoDeleteSeconds != nil {
		config.AutoDeleteSeconds = *patch.AutoDeleteSeconds
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO greet_configs (guild_id, enabled, channel_id, message_template, auto_delete_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			channel_id = excluded.channel_id,
			message_template = excluded.message_template,
			auto_delete_seconds = excluded.auto_delete_seconds
	`,
		config.GuildID,
		boolToInt(config.Enabled),
		nullIfEmpty(config.ChannelID),
		nullIfEmpty(config.MessageTemplate),
		config.AutoDeleteSeconds,
	)
	if err != nil {
		return GreetConfig{}, err
	}
	if err = tx.Commit(); err != nil {
		return GreetConfig{}, err
	}
	return config, nil
}

func (s *Store) DeleteGreetConfig(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM greet_configs WHERE guild_id = ?`, guildID)
	return err
}

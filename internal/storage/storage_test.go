package storage

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func TestUpsertAntinukeConfigMergesPatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.UpsertAntinukeConfig(ctx, AntinukeConfigPatch{GuildID: "g1", Enabled: boolPtr(true), UpdatedBy: "owner"})
	if err != nil {
		t.Fatalf("upsert enabled: %v", err)
	}
	if !row.Enabled || row.NightmodeEnabled {
		t.Fatalf("unexpected row after enable: %+v", row)
	}

	row, err = store.UpsertAntinukeConfig(ctx, AntinukeConfigPatch{GuildID: "g1", ExtraOwnerID: strPtr("u2"), UpdatedBy: "owner"})
	if err != nil {
		t.Fatalf("upsert extra owner: %v", err)
	}
	if !row.Enabled {
		t.Fatalf("patch must not clobber unrelated fields: %+v", row)
	}
	if row.ExtraOwnerID != "u2" {
		t.Fatalf("extra owner not stored: %+v", row)
	}

	row, err = store.UpsertAntinukeConfig(ctx, AntinukeConfigPatch{GuildID: "g1", ExtraOwnerID: strPtr(""), UpdatedBy: "owner"})
	if err != nil {
		t.Fatalf("clear extra owner: %v", err)
	}
	if row.ExtraOwnerID != "" || !row.Enabled {
		t.Fatalf("pointer to empty string should clear the column only: %+v", row)
	}

	got, found, err := store.GetAntinukeConfig(ctx, "g1")
	if err != nil || !found {
		t.Fatalf("get config: %v %v", found, err)
	}
	if !reflect.DeepEqual(got, row) {
		t.Fatalf("stored row mismatch: %+v vs %+v", got, row)
	}
}

func TestGetAntinukeConfigMissing(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.GetAntinukeConfig(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if found {
		t.Fatalf("missing guild should report not found")
	}
}

func TestWhitelistRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry, err := store.UpsertAntinukeWhitelistUser(ctx, AntinukeWhitelistUser{
		GuildID:  "g1",
		UserID:   "u1",
		Features: []string{"channel_delete", "role_delete"},
		AddedBy:  "owner",
	})
	if err != nil {
		t.Fatalf("upsert whitelist: %v", err)
	}
	if entry.CreatedAt.IsZero() {
		t.Fatalf("created_at should be set")
	}

	got, found, err := store.GetAntinukeWhitelistUser(ctx, "g1", "u1")
	if err != nil || !found {
		t.Fatalf("get whitelist: %v %v", found, err)
	}
	if !reflect.DeepEqual(got.Features, []string{"channel_delete", "role_delete"}) {
		t.Fatalf("features mismatch: %v", got.Features)
	}

	// Re-upsert replaces the feature set but keeps the original row.
	updated, err := store.UpsertAntinukeWhitelistUser(ctx, AntinukeWhitelistUser{
		GuildID:  "g1",
		UserID:   "u1",
		Features: []string{"member_ban"},
		AddedBy:  "owner2",
	})
	if err != nil {
		t.Fatalf("re-upsert whitelist: %v", err)
	}
	if !reflect.DeepEqual(updated.Features, []string{"member_ban"}) || updated.AddedBy != "owner2" {
		t.Fatalf("re-upsert mismatch: %+v", updated)
	}

	if err := store.DeleteAntinukeWhitelistUser(ctx, "g1", "u1"); err != nil {
		t.Fatalf("delete whitelist: %v", err)
	}
	if _, found, _ := store.GetAntinukeWhitelistUser(ctx, "g1", "u1"); found {
		t.Fatalf("deleted entry should be gone")
	}
}

func TestWhitelistEmptyFeaturesSurviveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.UpsertAntinukeWhitelistUser(ctx, AntinukeWhitelistUser{GuildID: "g1", UserID: "u1", AddedBy: "owner"}); err != nil {
		t.Fatalf("upsert whitelist: %v", err)
	}
	got, found, err := store.GetAntinukeWhitelistUser(ctx, "g1", "u1")
	if err != nil || !found {
		t.Fatalf("get whitelist: %v %v", found, err)
	}
	if len(got.Features) != 0 {
		t.Fatalf("empty feature set must stay empty, got %v", got.Features)
	}
}

func TestListAndResetGuildWhitelist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, userID := range []string{"u1", "u2"} {
		if _, err := store.UpsertAntinukeWhitelistUser(ctx, AntinukeWhitelistUser{GuildID: "g1", UserID: userID, Features: []string{"member_kick"}, AddedBy: "owner"}); err != nil {
			t.Fatalf("upsert %s: %v", userID, err)
		}
	}
	if _, err := store.UpsertAntinukeWhitelistUser(ctx, AntinukeWhitelistUser{GuildID: "g2", UserID: "u3", AddedBy: "owner"}); err != nil {
		t.Fatalf("upsert other guild: %v", err)
	}

	entries, err := store.ListAntinukeWhitelist(ctx, "g1")
	if err != nil {
		t.Fatalf("list whitelist: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}

	if err := store.DeleteGuildAntinukeWhitelist(ctx, "g1"); err != nil {
		t.Fatalf("reset whitelist: %v", err)
	}
	entries, err = store.ListAntinukeWhitelist(ctx, "g1")
	if err != nil || len(entries) != 0 {
		t.Fatalf("reset should empty the guild whitelist: %v %v", entries, err)
	}
	if _, found, _ := store.GetAntinukeWhitelistUser(ctx, "g2", "u3"); !found {
		t.Fatalf("reset must not touch other guilds")
	}
}

func TestAuditLogLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := AuditLog{GuildID: "g1", UserID: "u1", Level: "WARN", Event: "antinuke_config", Details: "enabled=true", CreatedAt: time.Now().AddDate(0, 0, -30)}
	recent := AuditLog{GuildID: "g1", UserID: "u2", Level: "CRIT", Event: "antinuke_enforced", Details: "feature=channel_delete", CreatedAt: time.Now()}
	for _, log := range []AuditLog{old, recent} {
		if err := store.AddAuditLog(ctx, log); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "antinuke_enforced" {
		t.Fatalf("expected only the recent log, got %+v", logs)
	}

	if err := store.CleanupAuditLogs(ctx, 14); err != nil {
		t.Fatalf("cleanup audit logs: %v", err)
	}
	logs, err = store.ListAuditLogs(ctx, "g1", time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("list after cleanup: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("cleanup should drop only expired logs, got %d", len(logs))
	}
}

func TestGuildPrefixRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	prefix, err := store.GetGuildPrefix(ctx, "g1")
	if err != nil || prefix != "" {
		t.Fatalf("missing prefix should be empty: %q %v", prefix, err)
	}
	if err := store.SetGuildPrefix(ctx, "g1", "?"); err != nil {
		t.Fatalf("set prefix: %v", err)
	}
	if err := store.SetGuildPrefix(ctx, "g1", "!!"); err != nil {
		t.Fatalf("update prefix: %v", err)
	}
	prefix, err = store.GetGuildPrefix(ctx, "g1")
	if err != nil || prefix != "!!" {
		t.Fatalf("expected updated prefix, got %q %v", prefix, err)
	}
	if err := store.DeleteGuildPrefix(ctx, "g1"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if prefix, _ := store.GetGuildPrefix(ctx, "g1"); prefix != "" {
		t.Fatalf("deleted prefix should read empty")
	}
}

func TestAfkEntryLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetAfkEntry(ctx, AfkEntry{GuildID: "g1", UserID: "u1", Reason: "lunch"}); err != nil {
		t.Fatalf("set afk: %v", err)
	}
	entry, found, err := store.GetAfkEntry(ctx, "g1", "u1")
	if err != nil || !found {
		t.Fatalf("get afk: %v %v", found, err)
	}
	if entry.Reason != "lunch" || entry.Since.IsZero() {
		t.Fatalf("unexpected afk entry %+v", entry)
	}

	cleared, err := store.ClearAfkEntry(ctx, "g1", "u1")
	if err != nil || !cleared {
		t.Fatalf("clear afk: %v %v", cleared, err)
	}
	cleared, err = store.ClearAfkEntry(ctx, "g1", "u1")
	if err != nil || cleared {
		t.Fatalf("second clear should be a no-op: %v %v", cleared, err)
	}
}

func TestOwnerUserLists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddNoPrefixUser(ctx, "u1"); err != nil {
		t.Fatalf("add noprefix: %v", err)
	}
	if err := store.AddNoPrefixUser(ctx, "u1"); err != nil {
		t.Fatalf("re-add noprefix should be idempotent: %v", err)
	}
	if err := store.AddBlacklistUser(ctx, "u2"); err != nil {
		t.Fatalf("add blacklist: %v", err)
	}

	noPrefix, err := store.ListNoPrefixUsers(ctx)
	if err != nil || !reflect.DeepEqual(noPrefix, []string{"u1"}) {
		t.Fatalf("noprefix list mismatch: %v %v", noPrefix, err)
	}
	blacklist, err := store.ListBlacklistUsers(ctx)
	if err != nil || !reflect.DeepEqual(blacklist, []string{"u2"}) {
		t.Fatalf("blacklist mismatch: %v %v", blacklist, err)
	}

	if err := store.RemoveNoPrefixUser(ctx, "u1"); err != nil {
		t.Fatalf("remove noprefix: %v", err)
	}
	if err := store.RemoveBlacklistUser(ctx, "u2"); err != nil {
		t.Fatalf("remove blacklist: %v", err)
	}
	if ids, _ := store.ListNoPrefixUsers(ctx); len(ids) != 0 {
		t.Fatalf("noprefix list should be empty")
	}
	if ids, _ := store.ListBlacklistUsers(ctx); len(ids) != 0 {
		t.Fatalf("blacklist should be empty")
	}
}

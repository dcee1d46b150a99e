package antinuke

import (
	"context"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"nexon-guard/internal/storage"
)

// ConfigRepository and WhitelistRepository are the persistence contracts the
// service needs; *storage.Store satisfies both.
type ConfigRepository interface {
	GetAntinukeConfig(ctx context.Context, guildID string) (storage.AntinukeConfig, bool, error)
	UpsertAntinukeConfig(ctx context.Context, patch storage.AntinukeConfigPatch) (storage.AntinukeConfig, error)
}

type WhitelistRepository interface {
	GetAntinukeWhitelistUser(ctx context.Context, guildID, userID string) (storage.AntinukeWhitelistUser, bool, error)
	UpsertAntinukeWhitelistUser(ctx context.Context, entry storage.AntinukeWhitelistUser) (storage.AntinukeWhitelistUser, error)
	DeleteAntinukeWhitelistUser(ctx context.Context, guildID, userID string) error
	ListAntinukeWhitelist(ctx context.Context, guildID string) ([]storage.AntinukeWhitelistUser, error)
	DeleteGuildAntinukeWhitelist(ctx context.Context, guildID string) error
}

// ConfigState mirrors the stored antinuke config; empty id strings mean
// unset. Missing rows read as the disabled defaults.
type ConfigState struct {
	GuildID          string
	Enabled          bool
	NightmodeEnabled bool
	ExtraOwnerID     string
	LogChannelID     string
	UpdatedBy        string
}

type TrustCheck struct {
	GuildID      string
	UserID       string
	GuildOwnerID string
	IsBotOwner   bool
	FeatureKey   string
}

// Service owns the per-guild antinuke config and whitelist with
// read-through caches. Both caches are instance-scoped so separate
// services never share state.
type Service struct {
	configs   ConfigRepository
	whitelist WhitelistRepository

	configCache *gocache.Cache

	mu             sync.Mutex
	whitelistCache map[string]map[string]map[string]struct{}
	hydratedGuilds map[string]bool
}

func NewService(configs ConfigRepository, whitelist WhitelistRepository) *Service {
	return &Service{
		configs:        configs,
		whitelist:      whitelist,
		configCache:    gocache.New(gocache.NoExpiration, 0),
		whitelistCache: make(map[string]map[string]map[string]struct{}),
		hydratedGuilds: make(map[string]bool),
	}
}

func toConfigState(row storage.AntinukeConfig) ConfigState {
	return ConfigState{
		GuildID:          row.GuildID,
		Enabled:          row.Enabled,
		NightmodeEnabled: row.NightmodeEnabled,
		ExtraOwnerID:     row.ExtraOwnerID,
		LogChannelID:     row.LogChannelID,
		UpdatedBy:        row.UpdatedBy,
	}
}

// GetConfig reads through the cache; a missing row yields the disabled
// defaults. A failed load is not cached.
func (s *Service) GetConfig(ctx context.Context, guildID string) (ConfigState, error) {
	if cached, ok := s.configCache.Get(guildID); ok {
		return cached.(ConfigState), nil
	}

	row, _, err := s.configs.GetAntinukeConfig(ctx, guildID)
	if err != nil {
		return ConfigState{}, err
	}
	state := toConfigState(row)
	state.GuildID = guildID
	s.configCache.Set(guildID, state, gocache.NoExpiration)
	return state, nil
}

func (s *Service) SetEnabled(ctx context.Context, guildID string, enabled bool, updatedBy string) (ConfigState, error) {
	return s.applyConfigPatch(ctx, storage.AntinukeConfigPatch{
		GuildID:   guildID,
		Enabled:   &enabled,
		UpdatedBy: updatedBy,
	})
}

func (s *Service) SetNightmodeEnabled(ctx context.Context, guildID string, nightmode bool, updatedBy string) (ConfigState, error) {
	return s.applyConfigPatch(ctx, storage.AntinukeConfigPatch{
		GuildID:          guildID,
		NightmodeEnabled: &nightmode,
		UpdatedBy:        updatedBy,
	})
}

func (s *Service) SetExtraOwner(ctx context.Context, guildID, extraOwnerID, updatedBy string) (ConfigState, error) {
	return s.applyConfigPatch(ctx, storage.AntinukeConfigPatch{
		GuildID:      guildID,
		ExtraOwnerID: &extraOwnerID,
		UpdatedBy:    updatedBy,
	})
}

func (s *Service) ClearExtraOwner(ctx context.Context, guildID, updatedBy string) (ConfigState, error) {
	cleared := ""
	return s.applyConfigPatch(ctx, storage.AntinukeConfigPatch{
		GuildID:      guildID,
		ExtraOwnerID: &cleared,
		UpdatedBy:    updatedBy,
	})
}

func (s *Service) SetLogChannelID(ctx context.Context, guildID, channelID, updatedBy string) (ConfigState, error) {
	return s.applyConfigPatch(ctx, storage.AntinukeConfigPatch{
		GuildID:      guildID,
		LogChannelID: &channelID,
		UpdatedBy:    updatedBy,
	})
}

// applyConfigPatch refreshes the cache from the row the store returned,
// never from a locally merged value. A failed write leaves the cache alone.
func (s *Service) applyConfigPatch(ctx context.Context, patch storage.AntinukeConfigPatch) (ConfigState, error) {
	row, err := s.configs.UpsertAntinukeConfig(ctx, patch)
	if err != nil {
		return ConfigState{}, err
	}
	state := toConfigState(row)
	s.configCache.Set(patch.GuildID, state, gocache.NoExpiration)
	return state, nil
}

func featureSetOf(features []string) map[string]struct{} {
	set := make(map[string]struct{}, len(features))
	for _, feature := range features {
		set[feature] = struct{}{}
	}
	return set
}

// cacheWhitelistRow patches a single entry into the guild cache. It must
// never certify hydration: completeness is a guild-wide guarantee only a
// full list or reset may establish.
func (s *Service) cacheWhitelistRow(entry storage.AntinukeWhitelistUser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guildMap := s.whitelistCache[entry.GuildID]
	if guildMap == nil {
		guildMap = make(map[string]map[string]struct{})
		s.whitelistCache[entry.GuildID] = guildMap
	}
	guildMap[entry.UserID] = featureSetOf(entry.Features)
}

func (s *Service) cacheWhitelistRows(guildID string, entries []storage.AntinukeWhitelistUser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guildMap := make(map[string]map[string]struct{}, len(entries))
	for _, entry := range entries {
		guildMap[entry.UserID] = featureSetOf(entry.Features)
	}
	s.whitelistCache[guildID] = guildMap
	s.hydratedGuilds[guildID] = true
}

// hydrateWhitelist returns the guild's complete whitelist map, loading it
// from the repository unless a full load already happened.
func (s *Service) hydrateWhitelist(ctx context.Context, guildID string) (map[string]map[string]struct{}, error) {
	s.mu.Lock()
	cached := s.whitelistCache[guildID]
	hydrated := s.hydratedGuilds[guildID]
	s.mu.Unlock()

	if cached != nil && hydrated {
		return cached, nil
	}

	entries, err := s.whitelist.ListAntinukeWhitelist(ctx, guildID)
	if err != nil {
		return nil, err
	}
	s.cacheWhitelistRows(guildID, entries)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whitelistCache[guildID], nil
}

func (s *Service) GetWhitelistEntry(ctx context.Context, guildID, userID string) (storage.AntinukeWhitelistUser, bool, error) {
	entry, found, err := s.whitelist.GetAntinukeWhitelistUser(ctx, guildID, userID)
	if err != nil {
		return storage.AntinukeWhitelistUser{}, false, err
	}
	if found {
		s.cacheWhitelistRow(entry)
	}
	return entry, found, nil
}

// IsWhitelisted reports whether the user may exercise the feature. With an
// empty featureKey it is a presence-only check. Unknown feature keys are
// conservatively untrusted; a stored empty feature set is the legacy
// full-trust marker.
func (s *Service) IsWhitelisted(ctx context.Context, guildID, userID, featureKey string) (bool, error) {
	whitelist, err := s.hydrateWhitelist(ctx, guildID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	featureSet, ok := whitelist[userID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	if featureKey == "" {
		return true, nil
	}
	if !IsFeatureKey(featureKey) {
		return false, nil
	}
	if len(featureSet) == 0 {
		return true, nil
	}
	_, allowed := featureSet[normalizeKey(featureKey)]
	return allowed, nil
}

// AddWhitelistUser normalizes the selection and upserts the entry. An empty
// selection whitelists the entire catalog, matching the command UI default.
// Features accumulate across calls; an existing legacy full-trust entry
// stays full-trust.
func (s *Service) AddWhitelistUser(ctx context.Context, guildID, userID, addedBy string, features []string) (storage.AntinukeWhitelistUser, error) {
	selected := NormalizeFeatureKeys(features)
	if len(selected) == 0 {
		selected = AllFeatureKeys()
	}

	existing, found, err := s.whitelist.GetAntinukeWhitelistUser(ctx, guildID, userID)
	if err != nil {
		return storage.AntinukeWhitelistUser{}, err
	}
	merged := selected
	if found {
		if len(existing.Features) == 0 {
			merged = nil
		} else {
			merged = unionFeatures(existing.Features, selected)
		}
	}

	entry, err := s.whitelist.UpsertAntinukeWhitelistUser(ctx, storage.AntinukeWhitelistUser{
		GuildID:  guildID,
		UserID:   userID,
		Features: merged,
		AddedBy:  addedBy,
	})
	if err != nil {
		return storage.AntinukeWhitelistUser{}, err
	}
	s.cacheWhitelistRow(entry)
	return entry, nil
}

func (s *Service) RemoveWhitelistUser(ctx context.Context, guildID, userID string) error {
	if err := s.whitelist.DeleteAntinukeWhitelistUser(ctx, guildID, userID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if guildMap := s.whitelistCache[guildID]; guildMap != nil {
		delete(guildMap, userID)
	}
	return nil
}

func (s *Service) ListWhitelistUsers(ctx context.Context, guildID string) ([]storage.AntinukeWhitelistUser, error) {
	entries, err := s.whitelist.ListAntinukeWhitelist(ctx, guildID)
	if err != nil {
		return nil, err
	}
	s.cacheWhitelistRows(guildID, entries)
	return entries, nil
}

func (s *Service) ResetWhitelist(ctx context.Context, guildID string) error {
	if err := s.whitelist.DeleteGuildAntinukeWhitelist(ctx, guildID); err != nil {
		return err
	}
	s.cacheWhitelistRows(guildID, nil)
	return nil
}

// IsTrusted combines the owner identities and the whitelist into one
// verdict. The owner checks run before any repository access so the common
// owner-acting case never hydrates the whitelist.
func (s *Service) IsTrusted(ctx context.Context, check TrustCheck) (bool, error) {
	if check.UserID == check.GuildOwnerID {
		return true, nil
	}
	if check.IsBotOwner {
		return true, nil
	}

	config, err := s.GetConfig(ctx, check.GuildID)
	if err != nil {
		return false, err
	}
	if config.ExtraOwnerID != "" && config.ExtraOwnerID == check.UserID {
		return true, nil
	}

	return s.IsWhitelisted(ctx, check.GuildID, check.UserID, check.FeatureKey)
}

func unionFeatures(existing, selected []string) []string {
	merged := make([]string, 0, len(existing)+len(selected))
	seen := make(map[string]struct{}, len(existing)+len(selected))
	for _, key := range existing {
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			merged = append(merged, key)
		}
	}
	for _, key := range selected {
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			merged = append(merged, key)
		}
	}
	return merged
}

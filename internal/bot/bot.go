package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nexon-guard/internal/analytics"
	"nexon-guard/internal/antinuke"
	"nexon-guard/internal/audit"
	"nexon-guard/internal/config"
	"nexon-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Bot owns the gateway session and wires the antinuke service, enforcer,
// and log-channel resolver to Discord events and prefix commands.
type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	service   *antinuke.Service
	enforcer  *antinuke.Enforcer
	cards     *antinuke.LogChannelResolver
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session

	mu        sync.Mutex
	prefixes  map[string]string
	noPrefix  map[string]struct{}
	blacklist map[string]struct{}
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, service *antinuke.Service, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildEmojis |
		discordgo.IntentsGuildWebhooks |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		service:   service,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		prefixes:  make(map[string]string),
		noPrefix:  make(map[string]struct{}),
		blacklist: make(map[string]struct{}),
	}

	b.cards = antinuke.NewLogChannelResolver(session, service, logger, cfg.Antinuke.LogChannelID)

	dedup := antinuke.NewDeduplicator(time.Duration(cfg.Antinuke.DedupTTLMinutes) * time.Minute)
	b.enforcer = antinuke.NewEnforcer(session, service, dedup, b.cards, logger, cfg.OwnerIDs)
	b.enforcer.WithWindow(time.Duration(cfg.Antinuke.LookbackSeconds)*time.Second, cfg.Antinuke.AuditPageSize)
	b.enforcer.SetRecorder(auditLogger, audit.EventAntinukeEnforced)

	// Config and whitelist changes land in the audit trail; mirror them to
	// the guild's antinuke log channel. Enforcements already carry their
	// own card.
	auditLogger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
		switch entry.Event {
		case audit.EventAntinukeConfig, audit.EventWhitelistUpdate:
		default:
			return
		}
		b.cards.SendCard(ctx, entry.GuildID, b.guildOwnerID(entry.GuildID), entry.UserID, "Nexon Configuration Update", []string{
			fmt.Sprintf("Event: `%s`", entry.Event),
			fmt.Sprintf("By: <@%s>", entry.UserID),
			entry.Details,
		})
	})

	return b, nil
}

func (b *Bot) Start() error {
	ctx := context.Background()
	if users, err := b.store.ListNoPrefixUsers(ctx); err == nil {
		for _, id := range users {
			b.noPrefix[id] = struct{}{}
		}
	}
	if users, err := b.store.ListBlacklistUsers(ctx); err == nil {
		for _, id := range users {
			b.blacklist[id] = struct{}{}
		}
	}

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onGuildEmojisUpdate)
	b.session.AddHandler(b.onWebhooksUpdate)

	if err := b.session.Open(); err != nil {
		return err
	}

	b.startRetentionLoop()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	if session.State != nil && session.State.User != nil {
		b.enforcer.SetSelf(session.State.User.ID)
		b.cards.SetSelf(session.State.User.ID)
		b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
	}
}

// guildFor resolves a guild from state, falling back to a REST fetch
// when the guild is not cached yet.
func (b *Bot) guildFor(guildID string) *discordgo.Guild {
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil || guild.OwnerID == "" {
		guild, _ = b.session.Guild(guildID)
	}
	return guild
}

func (b *Bot) guildOwnerID(guildID string) string {
	guild := b.guildFor(guildID)
	if guild == nil {
		return ""
	}
	return guild.OwnerID
}

func (b *Bot) dispatchEnforcement(featureKey, guildID, targetID, reason string) {
	trigger, ok := antinuke.TriggerFor(featureKey)
	if !ok {
		return
	}
	b.enforcer.Enforce(context.Background(), trigger, antinuke.Event{
		GuildID:      guildID,
		GuildOwnerID: b.guildOwnerID(guildID),
		TargetID:     targetID,
		Reason:       reason,
	})
}

func (b *Bot) isBlacklisted(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blacklist[userID]
	return ok
}

func (b *Bot) hasNoPrefix(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.noPrefix[userID]
	return ok
}

// guildPrefix reads through the in-memory prefix cache; missing rows fall
// back to the configured default.
func (b *Bot) guildPrefix(ctx context.Context, guildID string) string {
	b.mu.Lock()
	cached, ok := b.prefixes[guildID]
	b.mu.Unlock()
	if ok {
		return cached
	}

	prefix, err := b.store.GetGuildPrefix(ctx, guildID)
	if err != nil {
		return b.cfg.DefaultPrefix
	}
	if prefix == "" {
		prefix = b.cfg.DefaultPrefix
	}
	b.mu.Lock()
	b.prefixes[guildID] = prefix
	b.mu.Unlock()
	return prefix
}

func (b *Bot) setCachedPrefix(guildID, prefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefixes[guildID] = prefix
}

func (b *Bot) startRetentionLoop() {
	if b.cfg.RetentionDays <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := b.store.CleanupAuditLogs(context.Background(), b.cfg.RetentionDays); err != nil {
				b.logger.Warn("audit retention cleanup failed", zap.Error(err))
			}
		}
	}()
}

package antinuke

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	defaultAuditLookback = 20 * time.Second
	defaultAuditPage     = 8
)

// GuildAPI is the slice of the Discord session the enforcer needs.
// *discordgo.Session satisfies it.
type GuildAPI interface {
	GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
}

// CardSender delivers an enforcement card to the guild's antinuke log
// channel. Implementations swallow their own failures.
type CardSender interface {
	SendCard(ctx context.Context, guildID, guildOwnerID, requestedByID, title string, bodyLines []string)
}

// TrustSource is the part of Service the enforcer consumes.
type TrustSource interface {
	GetConfig(ctx context.Context, guildID string) (ConfigState, error)
	IsTrusted(ctx context.Context, check TrustCheck) (bool, error)
}

// EventRecorder receives one record per punished executor. *audit.Logger
// satisfies it.
type EventRecorder interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

// Trigger binds a protectable feature to its audit-log action and display
// label. The nine event collaborators share one table of these instead of
// nine near-identical call sites.
type Trigger struct {
	FeatureKey        string
	AuditLogAction    discordgo.AuditLogAction
	ActionLabel       string
	RequiresNightmode bool
}

// Event carries everything an enforcement pass needs about the triggering
// gateway event.
type Event struct {
	GuildID      string
	GuildOwnerID string
	TargetID     string
	Reason       string
}

// Enforcer correlates guild events with audit-log entries and punishes
// untrusted executors. Enforcement is best-effort: every failure is
// swallowed here so event handling for other guilds never breaks.
type Enforcer struct {
	api      GuildAPI
	trust    TrustSource
	dedup    *Deduplicator
	cards    CardSender
	logger   *zap.Logger
	clock    Clock
	lookback time.Duration
	page     int

	selfID    string
	botOwners map[string]struct{}

	recorder    EventRecorder
	recordEvent string
}

func NewEnforcer(api GuildAPI, trust TrustSource, dedup *Deduplicator, cards CardSender, logger *zap.Logger, botOwnerIDs []string) *Enforcer {
	owners := make(map[string]struct{}, len(botOwnerIDs))
	for _, id := range botOwnerIDs {
		owners[id] = struct{}{}
	}
	return &Enforcer{
		api:       api,
		trust:     trust,
		dedup:     dedup,
		cards:     cards,
		logger:    logger,
		clock:     realClock{},
		lookback:  defaultAuditLookback,
		page:      defaultAuditPage,
		botOwners: owners,
	}
}

func (e *Enforcer) WithClock(clock Clock) {
	e.clock = clock
}

// WithWindow overrides the audit-log lookback and page size. Zero values
// keep the defaults.
func (e *Enforcer) WithWindow(lookback time.Duration, page int) {
	if lookback > 0 {
		e.lookback = lookback
	}
	if page > 0 {
		e.page = page
	}
}

// SetRecorder registers the audit-trail sink for punished executors.
func (e *Enforcer) SetRecorder(recorder EventRecorder, event string) {
	e.recorder = recorder
	e.recordEvent = event
}

// SetSelf records the bot's own user id once the gateway session is ready.
func (e *Enforcer) SetSelf(userID string) {
	e.selfID = userID
}

func (e *Enforcer) IsBotOwner(userID string) bool {
	_, ok := e.botOwners[userID]
	return ok
}

// Enforce runs the full enforcement pass for one triggering guild event.
// It never returns an error and never panics into the caller: anything
// unexpected is logged at debug level and the event is dropped.
func (e *Enforcer) Enforce(ctx context.Context, trigger Trigger, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Debug("antinuke enforcement panicked",
				zap.String("guild_id", event.GuildID),
				zap.Any("panic", recovered))
		}
	}()

	outcome, err := e.enforce(ctx, trigger, event)
	if err != nil {
		e.logger.Debug("antinuke enforcement skipped",
			zap.String("guild_id", event.GuildID),
			zap.String("feature", trigger.FeatureKey),
			zap.Error(err))
		return
	}
	if outcome != "" {
		e.logger.Debug("antinuke enforcement handled",
			zap.String("guild_id", event.GuildID),
			zap.String("feature", trigger.FeatureKey),
			zap.String("outcome", outcome))
	}
}

func (e *Enforcer) enforce(ctx context.Context, trigger Trigger, event Event) (string, error) {
	config, err := e.trust.GetConfig(ctx, event.GuildID)
	if err != nil {
		return "", err
	}
	if !config.Enabled {
		return "", nil
	}
	if trigger.RequiresNightmode && !config.NightmodeEnabled {
		return "", nil
	}

	entry := e.resolveRecentEntry(event.GuildID, trigger.AuditLogAction, event.TargetID)
	if entry == nil || entry.UserID == "" {
		return "", nil
	}

	if entry.UserID == e.selfID {
		return "", nil
	}

	// Mark before evaluating trust: two interleaved deliveries of the same
	// underlying action must not both reach the punishment step, and a
	// trusted repeat actor should not cause repeated audit lookups.
	if !e.dedup.CheckAndMark(entry.ID) {
		return "", nil
	}

	trusted, err := e.trust.IsTrusted(ctx, TrustCheck{
		GuildID:      event.GuildID,
		UserID:       entry.UserID,
		GuildOwnerID: event.GuildOwnerID,
		IsBotOwner:   e.IsBotOwner(entry.UserID),
		FeatureKey:   trigger.FeatureKey,
	})
	if err != nil {
		return "", err
	}
	if trusted {
		return "trusted executor", nil
	}

	result := e.punishExecutor(event.GuildID, entry.UserID, event.Reason)
	if e.recorder != nil {
		detail := fmt.Sprintf("feature=%s entry=%s result=%s", trigger.FeatureKey, entry.ID, result)
		e.recorder.Log(ctx, "CRIT", event.GuildID, entry.UserID, e.recordEvent, detail)
	}
	e.sendEnforcementCard(ctx, trigger, event, entry, result)
	return result, nil
}

// resolveRecentEntry fetches a small page of recent audit-log entries of
// the given action and returns the first one inside the lookback window
// that matches the target, or nil. Audit entries lag the gateway event
// slightly, hence the backward search; an unreachable audit log means the
// action cannot be attributed and is skipped.
func (e *Enforcer) resolveRecentEntry(guildID string, action discordgo.AuditLogAction, targetID string) *discordgo.AuditLogEntry {
	logs, err := e.api.GuildAuditLog(guildID, "", "", int(action), e.page)
	if err != nil || logs == nil {
		return nil
	}

	now := e.clock.Now()
	for _, entry := range logs.AuditLogEntries {
		if entry == nil {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err != nil || now.Sub(ts) > e.lookback {
			continue
		}
		if targetID != "" && entry.TargetID != "" && entry.TargetID != targetID {
			continue
		}
		return entry
	}
	return nil
}

// punishExecutor applies ban, falling back to kick, falling back to
// nothing. Bans are preferred for stronger deterrence; an auto-unban is
// never attempted. Each capability is probed by the call itself so the
// decision never acts on a stale permission snapshot.
func (e *Enforcer) punishExecutor(guildID, executorID, reason string) string {
	if _, err := e.api.GuildMember(guildID, executorID); err != nil {
		return "No action taken (executor not found in guild)."
	}
	if err := e.api.GuildBanCreateWithReason(guildID, executorID, reason, 0); err == nil {
		return "Executor banned."
	}
	if err := e.api.GuildMemberDeleteWithReason(guildID, executorID, reason); err == nil {
		return "Executor kicked (ban unavailable)."
	}
	return "No action taken (insufficient permission to punish executor)."
}

func (e *Enforcer) sendEnforcementCard(ctx context.Context, trigger Trigger, event Event, entry *discordgo.AuditLogEntry, result string) {
	if e.cards == nil {
		return
	}
	unix := e.clock.Now().Unix()
	e.cards.SendCard(ctx, event.GuildID, event.GuildOwnerID, event.GuildOwnerID, "Nexon Security Alert", []string{
		fmt.Sprintf(":warning: **%s** detected and blocked.", trigger.ActionLabel),
		fmt.Sprintf("Feature: `%s`", trigger.FeatureKey),
		fmt.Sprintf("Executor: <@%s> (`%s`)", entry.UserID, entry.UserID),
		fmt.Sprintf("Reason: %s", event.Reason),
		fmt.Sprintf("Result: %s", result),
		fmt.Sprintf("Audit Entry: `%s`", entry.ID),
		fmt.Sprintf("Time: <t:%d:F> (<t:%d:R>)", unix, unix),
	})
}

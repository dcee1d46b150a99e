package antinuke

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeGuildAPI struct {
	mu         sync.Mutex
	entries    []*discordgo.AuditLogEntry
	auditErr   error
	memberErr  error
	banErr     error
	kickErr    error
	auditCalls int
	banned     []string
	kicked     []string
}

func (f *fakeGuildAPI) GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditCalls++
	if f.auditErr != nil {
		return nil, f.auditErr
	}
	return &discordgo.GuildAuditLog{AuditLogEntries: f.entries}, nil
}

func (f *fakeGuildAPI) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return &discordgo.Member{User: &discordgo.User{ID: userID}}, nil
}

func (f *fakeGuildAPI) GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.banErr != nil {
		return f.banErr
	}
	f.banned = append(f.banned, userID)
	return nil
}

func (f *fakeGuildAPI) GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kickErr != nil {
		return f.kickErr
	}
	f.kicked = append(f.kicked, userID)
	return nil
}

type fakeTrust struct {
	config   ConfigState
	cfgErr   error
	trusted  map[string]bool
	trustErr error
	checks   []TrustCheck
}

func (f *fakeTrust) GetConfig(ctx context.Context, guildID string) (ConfigState, error) {
	if f.cfgErr != nil {
		return ConfigState{}, f.cfgErr
	}
	return f.config, nil
}

func (f *fakeTrust) IsTrusted(ctx context.Context, check TrustCheck) (bool, error) {
	f.checks = append(f.checks, check)
	if f.trustErr != nil {
		return false, f.trustErr
	}
	return f.trusted[check.UserID], nil
}

type sentCard struct {
	guildID string
	title   string
	body    []string
}

type fakeCards struct {
	mu    sync.Mutex
	cards []sentCard
}

func (f *fakeCards) SendCard(ctx context.Context, guildID, guildOwnerID, requestedByID, title string, bodyLines []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = append(f.cards, sentCard{guildID: guildID, title: title, body: bodyLines})
}

type recordedEvent struct {
	level   string
	userID  string
	event   string
	details string
}

type fakeRecorder struct {
	events []recordedEvent
}

func (f *fakeRecorder) Log(ctx context.Context, level, guildID, userID, event, details string) {
	f.events = append(f.events, recordedEvent{level: level, userID: userID, event: event, details: details})
}

// snowflakeAt builds an id whose embedded timestamp is the given time.
func snowflakeAt(ts time.Time) string {
	ms := ts.UnixMilli() - 1420070400000
	return strconv.FormatInt(ms<<22, 10)
}

func auditEntry(id, userID, targetID string) *discordgo.AuditLogEntry {
	return &discordgo.AuditLogEntry{ID: id, UserID: userID, TargetID: targetID}
}

type enforcerHarness struct {
	enforcer *Enforcer
	api      *fakeGuildAPI
	trust    *fakeTrust
	cards    *fakeCards
	clock    *fakeClock
}

func newEnforcerHarness(config ConfigState) *enforcerHarness {
	api := &fakeGuildAPI{}
	trust := &fakeTrust{config: config, trusted: make(map[string]bool)}
	cards := &fakeCards{}
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	dedup := NewDeduplicator(5 * time.Minute)
	dedup.WithClock(clock)

	enforcer := NewEnforcer(api, trust, dedup, cards, zap.NewNop(), []string{"dev-owner"})
	enforcer.WithClock(clock)
	enforcer.SetSelf("bot-self")

	return &enforcerHarness{enforcer: enforcer, api: api, trust: trust, cards: cards, clock: clock}
}

func (h *enforcerHarness) freshEntry(userID, targetID string) *discordgo.AuditLogEntry {
	return auditEntry(snowflakeAt(h.clock.Now().Add(-2*time.Second)), userID, targetID)
}

func channelDeleteTrigger(t *testing.T) Trigger {
	t.Helper()
	trigger, ok := TriggerFor(FeatureChannelDelete)
	if !ok {
		t.Fatalf("channel delete trigger missing")
	}
	return trigger
}

func TestEnforceDisabledGuildSkipsAuditLookup(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: false})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "c1")}

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if h.api.auditCalls != 0 {
		t.Fatalf("disabled guild should not touch the audit log")
	}
	if len(h.api.banned) != 0 || len(h.cards.cards) != 0 {
		t.Fatalf("disabled guild should take no action")
	}
}

func TestEnforceNightmodeGate(t *testing.T) {
	trigger, _ := TriggerFor(FeatureNightmodeChannelCreate)

	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true, NightmodeEnabled: false})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "c1")}
	h.enforcer.Enforce(context.Background(), trigger, Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})
	if h.api.auditCalls != 0 || len(h.api.banned) != 0 {
		t.Fatalf("nightmode guard should be inert while nightmode is off")
	}

	h = newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true, NightmodeEnabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "c1")}
	h.enforcer.Enforce(context.Background(), trigger, Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})
	if len(h.api.banned) != 1 || h.api.banned[0] != "attacker" {
		t.Fatalf("nightmode guard should punish while nightmode is on, banned=%v", h.api.banned)
	}
}

func TestEnforceStaleEntrySkipped(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	stale := auditEntry(snowflakeAt(h.clock.Now().Add(-45*time.Second)), "attacker", "c1")
	h.api.entries = []*discordgo.AuditLogEntry{stale}

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 0 || len(h.cards.cards) != 0 {
		t.Fatalf("entries older than the lookback window must not be attributed")
	}
}

func TestEnforceTargetMismatchSkipped(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "other-channel")}

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 0 {
		t.Fatalf("entry for a different target must not be attributed")
	}
}

func TestEnforceEntryWithoutTargetMatchesAnyEvent(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "")}

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 1 {
		t.Fatalf("entry without a target id should match, banned=%v", h.api.banned)
	}
}

func TestEnforceSelfImmunity(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("bot-self", "c1")}

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 0 || len(h.trust.checks) != 0 {
		t.Fatalf("the bot's own actions must never be punished or trust-checked")
	}
}

func TestEnforceTrustedExecutorNoAction(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("moderator", "c1")}
	h.trust.trusted["moderator"] = true

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 0 || len(h.api.kicked) != 0 || len(h.cards.cards) != 0 {
		t.Fatalf("trusted executor must not be punished")
	}
	if len(h.trust.checks) != 1 {
		t.Fatalf("expected one trust check, got %d", len(h.trust.checks))
	}
	check := h.trust.checks[0]
	if check.UserID != "moderator" || check.FeatureKey != FeatureChannelDelete || check.GuildOwnerID != "owner" {
		t.Fatalf("unexpected trust check %+v", check)
	}
}

func TestEnforceBotOwnerFlagPropagated(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("dev-owner", "c1")}
	h.trust.trusted["dev-owner"] = true

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.trust.checks) != 1 || !h.trust.checks[0].IsBotOwner {
		t.Fatalf("bot owner identity should be forwarded to the trust check")
	}
}

func TestEnforceBansUntrustedExecutor(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "c1")}
	recorder := &fakeRecorder{}
	h.enforcer.SetRecorder(recorder, "antinuke_enforced")

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1", Reason: "Unauthorized channel deletion"})

	if len(h.api.banned) != 1 || h.api.banned[0] != "attacker" {
		t.Fatalf("expected attacker ban, got %v", h.api.banned)
	}
	if len(h.api.kicked) != 0 {
		t.Fatalf("ban succeeded, no kick expected")
	}
	if len(h.cards.cards) != 1 {
		t.Fatalf("expected one enforcement card, got %d", len(h.cards.cards))
	}
	card := h.cards.cards[0]
	if card.title != "Nexon Security Alert" {
		t.Fatalf("unexpected card title %q", card.title)
	}
	body := strings.Join(card.body, "\n")
	if !strings.Contains(body, "Executor banned.") || !strings.Contains(body, "attacker") {
		t.Fatalf("card should carry the outcome and executor:\n%s", body)
	}
	if len(recorder.events) != 1 || recorder.events[0].level != "CRIT" || recorder.events[0].userID != "attacker" {
		t.Fatalf("expected one CRIT record for the executor, got %+v", recorder.events)
	}
}

func TestEnforceBanFallsBackToKick(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "c1")}
	h.api.banErr = errors.New("missing ban permission")

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.kicked) != 1 || h.api.kicked[0] != "attacker" {
		t.Fatalf("expected kick fallback, got %v", h.api.kicked)
	}
	if !strings.Contains(strings.Join(h.cards.cards[0].body, "\n"), "Executor kicked (ban unavailable).") {
		t.Fatalf("card should report the kick fallback")
	}
}

func TestEnforceNoPermissionStillReports(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "c1")}
	h.api.banErr = errors.New("missing ban permission")
	h.api.kickErr = errors.New("missing kick permission")

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.cards.cards) != 1 {
		t.Fatalf("unpunishable executor should still be reported")
	}
	if !strings.Contains(strings.Join(h.cards.cards[0].body, "\n"), "No action taken (insufficient permission to punish executor).") {
		t.Fatalf("card should report the failed punishment")
	}
}

func TestEnforceExecutorLeftGuild(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "c1")}
	h.api.memberErr = errors.New("unknown member")

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 0 || len(h.api.kicked) != 0 {
		t.Fatalf("missing executor must not be banned or kicked")
	}
	if !strings.Contains(strings.Join(h.cards.cards[0].body, "\n"), "No action taken (executor not found in guild).") {
		t.Fatalf("card should report the missing executor")
	}
}

func TestEnforceDedupAcrossDeliveries(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	entry := h.freshEntry("attacker", "c1")
	h.api.entries = []*discordgo.AuditLogEntry{entry}

	trigger := channelDeleteTrigger(t)
	event := Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"}
	h.enforcer.Enforce(context.Background(), trigger, event)
	h.enforcer.Enforce(context.Background(), trigger, event)

	if len(h.api.banned) != 1 {
		t.Fatalf("one audit entry must lead to at most one punishment, got %d", len(h.api.banned))
	}
	if len(h.cards.cards) != 1 {
		t.Fatalf("one audit entry must lead to at most one card, got %d", len(h.cards.cards))
	}
}

func TestEnforceDedupBeforeTrust(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("moderator", "c1")}
	h.trust.trusted["moderator"] = true

	trigger := channelDeleteTrigger(t)
	event := Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"}
	h.enforcer.Enforce(context.Background(), trigger, event)
	h.enforcer.Enforce(context.Background(), trigger, event)

	if len(h.trust.checks) != 1 {
		t.Fatalf("repeat deliveries of a marked entry must skip trust evaluation, got %d checks", len(h.trust.checks))
	}
}

func TestEnforceAuditLogUnavailable(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.auditErr = errors.New("missing view audit log permission")

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 0 || len(h.cards.cards) != 0 {
		t.Fatalf("unattributable events must be dropped silently")
	}
}

func TestEnforceTrustErrorNoPunishment(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.api.entries = []*discordgo.AuditLogEntry{h.freshEntry("attacker", "c1")}
	h.trust.trustErr = errors.New("db down")

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 0 || len(h.api.kicked) != 0 {
		t.Fatalf("an undecidable trust verdict must not punish anyone")
	}
}

func TestWithWindowOverrides(t *testing.T) {
	h := newEnforcerHarness(ConfigState{GuildID: "g1", Enabled: true})
	h.enforcer.WithWindow(40*time.Second, 16)

	entry := auditEntry(snowflakeAt(h.clock.Now().Add(-30*time.Second)), "attacker", "c1")
	h.api.entries = []*discordgo.AuditLogEntry{entry}

	h.enforcer.Enforce(context.Background(), channelDeleteTrigger(t), Event{GuildID: "g1", GuildOwnerID: "owner", TargetID: "c1"})

	if len(h.api.banned) != 1 {
		t.Fatalf("widened lookback should attribute the entry")
	}
}

package antinuke

import (
	"reflect"
	"testing"
)

func TestNormalizeFeatureKeys(t *testing.T) {
	got := NormalizeFeatureKeys([]string{" Channel_Delete ", "role_delete", "channel_delete", "bogus", "ROLE_DELETE"})
	want := []string{FeatureChannelDelete, FeatureRoleDelete}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if NormalizeFeatureKeys(nil) != nil {
		t.Fatalf("nil input should stay nil")
	}
	if got := NormalizeFeatureKeys([]string{"bogus"}); len(got) != 0 {
		t.Fatalf("unknown-only input should normalize to empty, got %v", got)
	}
}

func TestIsFeatureKey(t *testing.T) {
	for _, key := range AllFeatureKeys() {
		if !IsFeatureKey(key) {
			t.Fatalf("catalog key %q should be valid", key)
		}
	}
	if IsFeatureKey("guild_update") {
		t.Fatalf("unknown key should be invalid")
	}
	if !IsFeatureKey(" MEMBER_BAN ") {
		t.Fatalf("validation should normalize case and whitespace")
	}
}

func TestFeatureLabelFallback(t *testing.T) {
	if FeatureLabel(FeatureMemberBan) != "Member Ban Guard" {
		t.Fatalf("unexpected label for %s: %s", FeatureMemberBan, FeatureLabel(FeatureMemberBan))
	}
	if FeatureLabel("mystery") != "mystery" {
		t.Fatalf("unknown key should fall back to itself")
	}
}

func TestEveryFeatureHasTrigger(t *testing.T) {
	for _, def := range Features() {
		trigger, ok := TriggerFor(def.Key)
		if !ok {
			t.Fatalf("feature %q has no trigger", def.Key)
		}
		if trigger.RequiresNightmode != def.NightmodeOnly {
			t.Fatalf("feature %q nightmode flag mismatch", def.Key)
		}
	}
	if _, ok := TriggerFor("bogus"); ok {
		t.Fatalf("unknown feature should have no trigger")
	}
}

package main

import (
	"testing"
	"time"
)

func TestApplyChannelModeStringSimpleFlags(t *testing.T) {
	c := newChannel("#test", time.Now().Unix())
	cb := &Catbox{Users: map[TS6UID]*User{}, Nicks: map[string]TS6UID{}}

	applyChannelModeString(c, cb, []string{"+nt"})
	if !c.hasMode(ChanModeNoExternal) || !c.hasMode(ChanModeTopicLock) {
		t.Fatalf("expected +n and +t set, modes=%v", c.Modes)
	}

	applyChannelModeString(c, cb, []string{"-n"})
	if c.hasMode(ChanModeNoExternal) {
		t.Fatalf("expected -n to clear ChanModeNoExternal")
	}
	if !c.hasMode(ChanModeTopicLock) {
		t.Fatalf("-n should not have cleared +t")
	}
}

func TestApplyChannelModeStringKeyAndLimit(t *testing.T) {
	c := newChannel("#test", time.Now().Unix())
	cb := &Catbox{Users: map[TS6UID]*User{}, Nicks: map[string]TS6UID{}}

	applyChannelModeString(c, cb, []string{"+kl", "hunter2", "10"})
	if c.Key == nil || *c.Key != "hunter2" {
		t.Fatalf("expected key hunter2, got %v", c.Key)
	}
	if c.Limit == nil || *c.Limit != 10 {
		t.Fatalf("expected limit 10, got %v", c.Limit)
	}

	applyChannelModeString(c, cb, []string{"-kl", "hunter2"})
	if c.Key != nil {
		t.Fatalf("expected key cleared, got %v", c.Key)
	}
	if c.Limit != nil {
		t.Fatalf("expected limit cleared, got %v", c.Limit)
	}
}

func TestApplyChannelModeStringMemberPrefix(t *testing.T) {
	c := newChannel("#test", time.Now().Unix())
	uid := TS6UID("1AAAAAAAA")
	c.Members = map[TS6UID]MemberModes{uid: 0}
	u := &User{UID: uid, DisplayNick: "alice", Channels: map[string]MemberModes{}}
	cb := &Catbox{Users: map[TS6UID]*User{uid: u}, Nicks: map[string]TS6UID{"alice": uid}}

	applyChannelModeString(c, cb, []string{"+o", string(uid)})
	if c.Members[uid]&MemberOp == 0 {
		t.Fatalf("expected +o to set MemberOp, got %v", c.Members[uid])
	}
	if u.Channels[c.Name]&MemberOp == 0 {
		t.Fatalf("expected user's own channel entry to mirror member modes")
	}

	applyChannelModeString(c, cb, []string{"-o", "alice"})
	if c.Members[uid]&MemberOp != 0 {
		t.Fatalf("expected -o (by nick) to clear MemberOp, got %v", c.Members[uid])
	}
}

func TestApplyChannelModeStringBanList(t *testing.T) {
	c := newChannel("#test", time.Now().Unix())
	cb := &Catbox{Users: map[TS6UID]*User{}, Nicks: map[string]TS6UID{}}

	applyChannelModeString(c, cb, []string{"+b", "*!*@evil.example.org"})
	if len(c.Bans) != 1 || c.Bans[0].Mask != "*!*@evil.example.org" {
		t.Fatalf("expected one ban entry, got %v", c.Bans)
	}

	// Adding the same mask again should not duplicate it.
	applyChannelModeString(c, cb, []string{"+b", "*!*@evil.example.org"})
	if len(c.Bans) != 1 {
		t.Fatalf("expected ban list to stay deduplicated, got %v", c.Bans)
	}

	applyChannelModeString(c, cb, []string{"-b", "*!*@evil.example.org"})
	if len(c.Bans) != 0 {
		t.Fatalf("expected ban removed, got %v", c.Bans)
	}
}

func TestResolveMemberTargetUnknownNick(t *testing.T) {
	c := newChannel("#test", time.Now().Unix())
	c.Members = map[TS6UID]MemberModes{}
	cb := &Catbox{Users: map[TS6UID]*User{}, Nicks: map[string]TS6UID{}}

	if got := resolveMemberTarget(cb, c, "ghost"); got != "" {
		t.Fatalf("resolveMemberTarget(unknown nick) = %q, wanted empty", got)
	}
}

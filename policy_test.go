package main

import (
	"testing"
	"time"
)

func TestParseFloodSetting(t *testing.T) {
	tests := []struct {
		input   string
		limit   int
		window  int
		banInst bool
		success bool
	}{
		{"10:5", 10, 5, false, true},
		{"*10:5", 10, 5, true, true},
		{"0:5", 0, 0, false, false},
		{"10", 0, 0, false, false},
		{"x:5", 0, 0, false, false},
	}

	for _, test := range tests {
		got, err := parseFloodSetting(test.input)
		if test.success {
			if err != nil {
				t.Errorf("parseFloodSetting(%q) = error %s, wanted success", test.input, err)
				continue
			}
			if got.Limit != test.limit || got.WindowSecs != test.window || got.BanInstead != test.banInst {
				t.Errorf("parseFloodSetting(%q) = %+v, wanted limit=%d window=%d ban=%v",
					test.input, got, test.limit, test.window, test.banInst)
			}
			continue
		}
		if err == nil {
			t.Errorf("parseFloodSetting(%q) = success, wanted error", test.input)
		}
	}
}

func TestCheckFloodDeniesOverLimit(t *testing.T) {
	c := newChannel("#test", time.Now().Unix())
	c.Flood = &floodSetting{Limit: 3, WindowSecs: 10}

	now := time.Now()
	uid := TS6UID("1AAAAAAAA")

	for i := 0; i < 3; i++ {
		if c.checkFlood(uid, now) {
			t.Fatalf("checkFlood denied action %d, wanted allowed (within limit)", i+1)
		}
	}

	if !c.checkFlood(uid, now) {
		t.Fatalf("checkFlood allowed 4th action in window, wanted denied")
	}
}

func TestCheckFloodWindowExpires(t *testing.T) {
	c := newChannel("#test", time.Now().Unix())
	c.Flood = &floodSetting{Limit: 1, WindowSecs: 1}

	uid := TS6UID("1AAAAAAAA")
	start := time.Now()

	if c.checkFlood(uid, start) {
		t.Fatalf("checkFlood denied first action, wanted allowed")
	}
	if !c.checkFlood(uid, start) {
		t.Fatalf("checkFlood allowed second action inside window, wanted denied")
	}
	later := start.Add(2 * time.Second)
	if c.checkFlood(uid, later) {
		t.Fatalf("checkFlood denied action after window expired, wanted allowed")
	}
}

func TestCheckJoinThrottleDeniesOverLimit(t *testing.T) {
	c := newChannel("#test", time.Now().Unix())
	c.JoinThrottle = &throttleSetting{Limit: 2, WindowSecs: 10}

	now := time.Now()
	if c.checkJoinThrottle(now) {
		t.Fatalf("checkJoinThrottle rejected 1st join, wanted accepted")
	}
	if c.checkJoinThrottle(now) {
		t.Fatalf("checkJoinThrottle rejected 2nd join, wanted accepted")
	}
	if !c.checkJoinThrottle(now) {
		t.Fatalf("checkJoinThrottle accepted 3rd join over limit, wanted rejected")
	}
}

func TestAcceptsFromOperatorBypassesCallerID(t *testing.T) {
	target := &User{Accept: map[TS6UID]struct{}{}}
	sender := &User{UID: "1BBBBBBBB", Modes: map[UserMode]struct{}{UserModeOperator: {}}}

	if !target.acceptsFrom(sender) {
		t.Fatalf("acceptsFrom(operator) = false, wanted true")
	}
}

func TestAcceptsFromRequiresAcceptListEntry(t *testing.T) {
	sender := &User{UID: "1BBBBBBBB", Modes: map[UserMode]struct{}{}}
	target := &User{Accept: map[TS6UID]struct{}{}}

	if target.acceptsFrom(sender) {
		t.Fatalf("acceptsFrom(not on accept list) = true, wanted false")
	}

	target.Accept[sender.UID] = struct{}{}
	if !target.acceptsFrom(sender) {
		t.Fatalf("acceptsFrom(on accept list) = false, wanted true")
	}
}

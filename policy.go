package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// slidingWindow counts events in a rolling time window, dropping entries
// older than the window on every read. Backs both +f (per channel-per-user)
// and the per-connection command rate limit.
type slidingWindow struct {
	window time.Time
	events []time.Time
}

// record adds an event at now and returns the count within the last
// `window` seconds (inclusive of the new event).
func (s *slidingWindow) record(now time.Time, window time.Duration) int {
	s.events = append(s.events, now)
	cutoff := now.Add(-window)
	kept := s.events[:0]
	for _, t := range s.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.events = kept
	return len(s.events)
}

// floodSetting is a parsed +f setting string of the form "[*]limit:window",
// e.g. "*10:5" (10 actions per rolling 5s window), with the optional
// leading '*' meaning "ban" instead of the default "kick". Per-type
// prefixes such as "m10:5" are not accepted.
type floodSetting struct {
	Limit      int
	WindowSecs int
	BanInstead bool
}

// parseFloodSetting parses a +f parameter per SPEC_FULL.md §4.4.
func parseFloodSetting(s string) (*floodSetting, error) {
	banInstead := false
	if strings.HasPrefix(s, "*") {
		banInstead = true
		s = s[1:]
	}

	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed flood setting: %s", s)
	}

	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return nil, fmt.Errorf("malformed flood limit: %s", parts[0])
	}

	window, err := strconv.Atoi(parts[1])
	if err != nil || window <= 0 {
		return nil, fmt.Errorf("malformed flood window: %s", parts[1])
	}

	return &floodSetting{Limit: limit, WindowSecs: window, BanInstead: banInstead}, nil
}

func (f *floodSetting) String() string {
	prefix := ""
	if f.BanInstead {
		prefix = "*"
	}
	return fmt.Sprintf("%s%d:%d", prefix, f.Limit, f.WindowSecs)
}

// throttleSetting is a parsed +j setting, "limit:window_seconds".
type throttleSetting struct {
	Limit      int
	WindowSecs int
}

func parseThrottleSetting(s string) (*throttleSetting, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed join-throttle setting: %s", s)
	}
	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return nil, fmt.Errorf("malformed join-throttle limit: %s", parts[0])
	}
	window, err := strconv.Atoi(parts[1])
	if err != nil || window <= 0 {
		return nil, fmt.Errorf("malformed join-throttle window: %s", parts[1])
	}
	return &throttleSetting{Limit: limit, WindowSecs: window}, nil
}

func (t *throttleSetting) String() string {
	return fmt.Sprintf("%d:%d", t.Limit, t.WindowSecs)
}

// checkFlood records an action by uid in channel c and reports whether it
// should be denied (the count for this window, including this action,
// exceeds c.Flood.Limit). Returns false (not denied) if +f is not set.
func (c *Channel) checkFlood(uid TS6UID, now time.Time) bool {
	if c.Flood == nil {
		return false
	}
	if c.floodTrackers == nil {
		c.floodTrackers = map[TS6UID]*slidingWindow{}
	}
	w, exists := c.floodTrackers[uid]
	if !exists {
		w = &slidingWindow{}
		c.floodTrackers[uid] = w
	}
	count := w.record(now, time.Duration(c.Flood.WindowSecs)*time.Second)
	return count > c.Flood.Limit
}

// checkJoinThrottle records a join attempt at now and reports whether it
// should be rejected because the channel's +j window is exceeded.
func (c *Channel) checkJoinThrottle(now time.Time) bool {
	if c.JoinThrottle == nil {
		return false
	}
	cutoff := now.Add(-time.Duration(c.JoinThrottle.WindowSecs) * time.Second)
	kept := c.joinTimes[:0]
	for _, t := range c.joinTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	c.joinTimes = kept
	return len(c.joinTimes) > c.JoinThrottle.Limit
}

// callerIDNotify tracks the "one rejection notice per minute per (target,
// sender)" rate limit for +g (SPEC_FULL.md §4.4).
type callerIDNotify struct {
	last map[string]time.Time
}

func (u *User) shouldNotifyCallerID(senderNick string, now time.Time) bool {
	if u.callerIDLastNotify == nil {
		u.callerIDLastNotify = map[string]time.Time{}
	}
	key := canonicalizeNick(senderNick)
	last, exists := u.callerIDLastNotify[key]
	if exists && now.Sub(last) < time.Minute {
		return false
	}
	u.callerIDLastNotify[key] = now
	return true
}

// checkCommandRate records a command from c and reports whether the
// connection has exceeded the configured per-connection command rate,
// throttling high-frequency verbs per SPEC_FULL.md §4.2. PING/PONG are
// exempt since the server itself drives their cadence.
func (c *LocalClient) checkCommandRate(now time.Time) bool {
	if c.commandRate == nil {
		c.commandRate = &slidingWindow{}
	}
	count := c.commandRate.record(now, c.Catbox.Config.CommandRateWindow)
	return count > c.Catbox.Config.CommandRateLimit
}

// acceptsFrom reports whether u (a +g user) accepts unsolicited messages
// from senderUID, either because senderUID is an operator or is on u's
// accept list.
func (u *User) acceptsFrom(sender *User) bool {
	if sender.isOperator() {
		return true
	}
	if u.Accept == nil {
		return false
	}
	_, ok := u.Accept[sender.UID]
	return ok
}

package ircmsg

import "testing"

func TestSourceNick(t *testing.T) {
	tests := []struct {
		input  Message
		output string
	}{
		{Message{}, ""},
		{Message{Prefix: "blah"}, ""},
		{Message{Prefix: "!"}, ""},
		{Message{Prefix: "hi!"}, "hi"},
		{Message{Prefix: "hi!~hello@hey"}, "hi"},
	}

	for _, test := range tests {
		got := test.input.SourceNick()
		if got != test.output {
			t.Errorf("%+v.SourceNick() = %s, wanted %s", test.input, got, test.output)
		}
	}
}

func TestParseMessageTags(t *testing.T) {
	tests := []struct {
		input   string
		tags    map[string]string
		prefix  string
		command string
		success bool
	}{
		{
			"@id=123;msgid=abc :irc PRIVMSG #x :hi\r\n",
			map[string]string{"id": "123", "msgid": "abc"},
			"irc",
			"PRIVMSG",
			true,
		},
		{
			"@a=b\\sc :irc NOTICE #x :hi\r\n",
			map[string]string{"a": "b c"},
			"irc",
			"NOTICE",
			true,
		},
		{
			// No terminating space after tags.
			"@a=b\r\n",
			nil, "", "", false,
		},
		{
			"PRIVMSG #x :hi\r\n",
			nil,
			"",
			"PRIVMSG",
			true,
		},
	}

	for _, test := range tests {
		m, err := ParseMessage(test.input)
		if test.success && err != nil {
			t.Errorf("ParseMessage(%q) = error %s, wanted success", test.input, err)
			continue
		}
		if !test.success {
			if err == nil {
				t.Errorf("ParseMessage(%q) = success, wanted error", test.input)
			}
			continue
		}
		if m.Prefix != test.prefix || m.Command != test.command {
			t.Errorf("ParseMessage(%q) = %+v, wanted prefix %s command %s",
				test.input, m, test.prefix, test.command)
		}
		for k, v := range test.tags {
			got, ok := m.Tag(k)
			if !ok || got != v {
				t.Errorf("ParseMessage(%q) tag %s = %q, wanted %q", test.input, k, got, v)
			}
		}
	}
}

func TestEncodeTagsRoundTrip(t *testing.T) {
	m := Message{
		Tags:    map[string]string{"msgid": "abc; def", "server-time": "2020-01-01T00:00:00Z"},
		Prefix:  "nick!u@h",
		Command: "PRIVMSG",
		Params:  []string{"#chan", "hello world"},
	}

	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() = error %s", err)
	}

	got, err := ParseMessage(encoded)
	if err != nil {
		t.Fatalf("ParseMessage(%q) = error %s", encoded, err)
	}

	if got.Prefix != m.Prefix || got.Command != m.Command {
		t.Fatalf("round-trip mismatch: got %+v, wanted %+v", got, m)
	}

	for k, v := range m.Tags {
		gv, ok := got.Tag(k)
		if !ok || gv != v {
			t.Errorf("round-trip tag %s = %q, wanted %q", k, gv, v)
		}
	}
}

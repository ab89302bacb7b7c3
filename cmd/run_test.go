package cmd

import (
	"reflect"
	"testing"
)

func TestExtractWrapperFlags(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		rest    []string
		channel string
	}{
		{
			name: "no flags",
			args: []string{"--resume", "abc", "-p", "hello"},
			rest: []string{"--resume", "abc", "-p", "hello"},
		},
		{
			name:    "channel with space",
			args:    []string{"--channel", "dm", "--model", "opus"},
			rest:    []string{"--model", "opus"},
			channel: "dm",
		},
		{
			name:    "channel with equals amid tool flags",
			args:    []string{"--dangerously-skip-permissions", "--channel=team deploys"},
			rest:    []string{"--dangerously-skip-permissions"},
			channel: "team deploys",
		},
		{
			name: "channel-like tool flag passes through",
			args: []string{"--channel-id", "7"},
			rest: []string{"--channel-id", "7"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rest, flags := extractWrapperFlags(c.args)
			if !reflect.DeepEqual(rest, c.rest) {
				t.Errorf("rest = %v, want %v", rest, c.rest)
			}
			if flags["channel"] != c.channel {
				t.Errorf("channel = %q, want %q", flags["channel"], c.channel)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	if got := redact("123456789:AAFi72bXk"); got != "1234...2bXk" {
		t.Errorf("redact = %q", got)
	}
	if got := redact("short"); got != "*****" {
		t.Errorf("redact short = %q", got)
	}
}

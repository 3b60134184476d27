package docker

import (
	"reflect"
	"testing"
)

func TestParsePorts(t *testing.T) {
	cases := []struct {
		in   string
		want []Port
	}{
		{"", []Port{}},
		{"8080/tcp", []Port{{PrivatePort: 8080, Type: "tcp"}}},
		{"0.0.0.0:6379->6379/tcp", []Port{{IP: "0.0.0.0", PublicPort: 6379, PrivatePort: 6379, Type: "tcp"}}},
		{":::6379->6379/tcp", []Port{{IP: "::", PublicPort: 6379, PrivatePort: 6379, Type: "tcp"}}},
		{
			"0.0.0.0:8443->443/tcp, :::8443->443/tcp, 53/udp",
			[]Port{
				{IP: "0.0.0.0", PublicPort: 8443, PrivatePort: 443, Type: "tcp"},
				{IP: "::", PublicPort: 8443, PrivatePort: 443, Type: "tcp"},
				{PrivatePort: 53, Type: "udp"},
			},
		},
		// Port ranges do not fit the wire shape and are skipped.
		{"7000-8000/tcp, 9090/tcp", []Port{{PrivatePort: 9090, Type: "tcp"}}},
	}
	for _, c := range cases {
		if got := parsePorts(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("parsePorts(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseContainerList(t *testing.T) {
	out := `{"ID":"a1b2c3d4e5f60718293a4b5c6d7e8f901234567890abcdef1234567890abcdef","Image":"redis:7","Command":"\"docker-entrypoint.sh redis-server\"","CreatedAt":"2026-05-01 10:00:00 +0000 UTC","Names":"cache,cache-alias","Ports":"0.0.0.0:6379->6379/tcp","State":"running","Status":"Up 2 days"}
not json at all
{"ID":"ffee00112233","Image":"alpine:3","Command":"\"sleep infinity\"","Names":"/sleeper","Ports":"","State":"exited","Status":"Exited (0) 3 hours ago"}
`
	got := parseContainerList(out)
	if len(got) != 2 {
		t.Fatalf("containers = %d, want 2 (garbage line skipped)", len(got))
	}

	c := got[0]
	if c.ID != "a1b2c3d4e5f60718293a4b5c6d7e8f901234567890abcdef1234567890abcdef" {
		t.Errorf("id = %q", c.ID)
	}
	if !reflect.DeepEqual(c.Names, []string{"cache", "cache-alias"}) {
		t.Errorf("names = %v", c.Names)
	}
	if c.Command != "docker-entrypoint.sh redis-server" {
		t.Errorf("command = %q, want quotes stripped", c.Command)
	}
	if len(c.Ports) != 1 || c.Ports[0].PublicPort != 6379 {
		t.Errorf("ports = %+v", c.Ports)
	}

	if got[1].Names[0] != "sleeper" {
		t.Errorf("names = %v, want leading slash stripped", got[1].Names)
	}
	if got[1].Ports == nil || len(got[1].Ports) != 0 {
		t.Errorf("ports = %#v, want empty non-nil slice", got[1].Ports)
	}
}

func TestParseStatsIndex(t *testing.T) {
	out := `{"ID":"a1b2c3d4e5f6","Container":"a1b2c3d4e5f6","Name":"cache","CPUPerc":"0.42%","MemUsage":"8MiB / 2GiB","MemPerc":"0.40%","NetIO":"1.2kB / 0B","BlockIO":"0B / 0B","PIDs":"5"}
`
	index := parseStatsIndex(out)
	for _, key := range []string{"a1b2c3d4e5f6", "cache"} {
		s, ok := index[key]
		if !ok {
			t.Fatalf("key %q missing from index", key)
		}
		if s.CPUPercent != "0.42%" || s.PIDs != "5" {
			t.Errorf("stats[%q] = %+v", key, s)
		}
	}
}

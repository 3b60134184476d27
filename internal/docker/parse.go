package docker

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
)

// psLine mirrors one line of docker ps --format '{{json .}}'. Unknown keys
// are ignored and missing keys zero out, so CLI drift degrades gracefully
// instead of failing the poll.
type psLine struct {
	ID        string `json:"ID"`
	Image     string `json:"Image"`
	Command   string `json:"Command"`
	CreatedAt string `json:"CreatedAt"`
	Names     string `json:"Names"`
	Ports     string `json:"Ports"`
	State     string `json:"State"`
	Status    string `json:"Status"`
}

type statsLine struct {
	ID        string `json:"ID"`
	Container string `json:"Container"`
	Name      string `json:"Name"`
	CPUPerc   string `json:"CPUPerc"`
	MemUsage  string `json:"MemUsage"`
	MemPerc   string `json:"MemPerc"`
	NetIO     string `json:"NetIO"`
	BlockIO   string `json:"BlockIO"`
	PIDs      string `json:"PIDs"`
}

func parseContainerList(out string) []Container {
	containers := make([]Container, 0, 8)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row psLine
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			log.Printf("[docker] skipping unparsable ps line: %v", err)
			continue
		}
		if row.ID == "" {
			continue
		}
		containers = append(containers, Container{
			ID:        row.ID,
			Names:     splitNames(row.Names),
			Image:     row.Image,
			Command:   strings.Trim(row.Command, `"`),
			CreatedAt: row.CreatedAt,
			State:     row.State,
			Status:    row.Status,
			Ports:     parsePorts(row.Ports),
		})
	}
	return containers
}

// splitNames breaks docker's comma-joined name list, dropping the legacy
// leading slash.
func splitNames(names string) []string {
	parts := strings.Split(names, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}

// parseStatsIndex indexes one docker stats sample under every identifier a
// ps row might carry: the ID column, the Container column, and the name.
func parseStatsIndex(out string) map[string]*Stats {
	index := make(map[string]*Stats)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row statsLine
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			log.Printf("[docker] skipping unparsable stats line: %v", err)
			continue
		}
		s := &Stats{
			CPUPercent: row.CPUPerc,
			MemUsage:   row.MemUsage,
			MemPercent: row.MemPerc,
			NetIO:      row.NetIO,
			BlockIO:    row.BlockIO,
			PIDs:       row.PIDs,
		}
		for _, key := range []string{row.ID, row.Container, strings.TrimPrefix(row.Name, "/")} {
			if key != "" {
				index[key] = s
			}
		}
	}
	return index
}

// parsePorts parses docker's compact port text, e.g.
// "0.0.0.0:6379->6379/tcp, :::6379->6379/tcp, 8080/tcp".
// Segments that do not fit (port ranges and the like) are skipped.
func parsePorts(text string) []Port {
	ports := make([]Port, 0, 4)
	for _, seg := range strings.Split(text, ",") {
		if p, ok := parsePortSegment(strings.TrimSpace(seg)); ok {
			ports = append(ports, p)
		}
	}
	return ports
}

func parsePortSegment(seg string) (Port, bool) {
	if seg == "" {
		return Port{}, false
	}
	mapping, proto, ok := strings.Cut(seg, "/")
	if !ok {
		return Port{}, false
	}
	left, right, published := strings.Cut(mapping, "->")
	if !published {
		private, err := strconv.Atoi(left)
		if err != nil {
			return Port{}, false
		}
		return Port{PrivatePort: private, Type: proto}, true
	}
	private, err := strconv.Atoi(right)
	if err != nil {
		return Port{}, false
	}
	// The host side may be an IPv6 address, so split on the last colon.
	idx := strings.LastIndex(left, ":")
	if idx < 0 {
		return Port{}, false
	}
	public, err := strconv.Atoi(left[idx+1:])
	if err != nil {
		return Port{}, false
	}
	return Port{IP: left[:idx], PublicPort: public, PrivatePort: private, Type: proto}, true
}

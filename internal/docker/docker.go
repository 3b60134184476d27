// Package docker inspects and drives containers on a session's remote host.
//
// Everything goes through the docker CLI over the session's command runner.
// A host without docker, or with a daemon the user cannot reach, is a normal
// condition reported as available=false rather than an error.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/portside-io/portside/backend/internal/terminal"
)

// versionProbeTimeout bounds the availability probe so a wedged daemon does
// not stall the whole poll tick.
const versionProbeTimeout = 2 * time.Second

// Stderr fragments that mean "no docker here", not "inspection failed".
var unavailableMarkers = []string{
	"command not found",
	"permission denied",
	"Cannot connect to the Docker daemon",
}

var containerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Report is the wire payload of one docker status update.
type Report struct {
	Available  bool        `json:"available"`
	Version    string      `json:"version,omitempty"`
	Containers []Container `json:"containers"`
}

// Container is one row of docker ps merged with its stats sample.
type Container struct {
	ID        string   `json:"id"`
	Names     []string `json:"names"`
	Image     string   `json:"image"`
	Command   string   `json:"command,omitempty"`
	CreatedAt string   `json:"createdAt,omitempty"`
	State     string   `json:"state"`
	Status    string   `json:"status"`
	Ports     []Port   `json:"ports"`
	Stats     *Stats   `json:"stats,omitempty"`
}

// Port is one published or exposed port, parsed from the compact textual
// form docker ps prints.
type Port struct {
	IP          string `json:"ip,omitempty"`
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort,omitempty"`
	Type        string `json:"type"`
}

// Stats keeps docker's pre-formatted stat strings as-is; the client renders
// them verbatim.
type Stats struct {
	CPUPercent string `json:"cpuPercent"`
	MemUsage   string `json:"memUsage"`
	MemPercent string `json:"memPercent"`
	NetIO      string `json:"netIO"`
	BlockIO    string `json:"blockIO"`
	PIDs       string `json:"pids"`
}

// Inspector produces Reports and runs container commands for one session.
type Inspector struct {
	runner terminal.Runner
}

func NewInspector(runner terminal.Runner) *Inspector {
	return &Inspector{runner: runner}
}

// Snapshot probes the daemon and, when it is reachable, lists all containers
// and merges a one-shot stats sample into the running ones. The error return
// means the inspection itself failed; an absent daemon is a valid Report.
func (i *Inspector) Snapshot(ctx context.Context) (Report, error) {
	version, available, err := i.probe(ctx)
	if err != nil {
		return Report{}, err
	}
	if !available {
		return Report{Available: false, Containers: []Container{}}, nil
	}

	res, err := i.runner.Run(ctx, "docker ps -a --no-trunc --format '{{json .}}'")
	if err != nil {
		return Report{}, fmt.Errorf("docker: ps: %w", err)
	}
	if res.ExitCode != 0 {
		return Report{}, fmt.Errorf("docker: ps: %s", exitMessage(res))
	}
	containers := parseContainerList(res.Stdout)

	var runningIDs []string
	for _, c := range containers {
		if c.State == "running" {
			runningIDs = append(runningIDs, c.ID)
		}
	}
	if len(runningIDs) > 0 {
		i.mergeStats(ctx, containers, runningIDs)
	}

	return Report{Available: true, Version: version, Containers: containers}, nil
}

// probe checks whether a usable daemon answers. The three stderr markers and
// an empty version both mean unavailable; so does blowing the probe budget.
func (i *Inspector) probe(ctx context.Context) (version string, available bool, err error) {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	res, err := i.runner.Run(probeCtx, "docker version --format '{{.Server.Version}}'")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("docker: version probe: %w", err)
	}
	for _, marker := range unavailableMarkers {
		if strings.Contains(res.Stderr, marker) {
			return "", false, nil
		}
	}
	version = strings.TrimSpace(res.Stdout)
	if version == "" {
		return "", false, nil
	}
	return version, true, nil
}

// mergeStats attaches a stats sample to each running container, matching by
// full id, 12-character short id, and name. docker stats failing (a
// container can exit between ps and stats) only costs this tick's stats.
func (i *Inspector) mergeStats(ctx context.Context, containers []Container, ids []string) {
	command := "docker stats " + strings.Join(ids, " ") + " --no-stream --format '{{json .}}'"
	res, err := i.runner.Run(ctx, command)
	if err != nil || res.ExitCode != 0 {
		log.Printf("[docker] stats sample skipped: err=%v exit=%d", err, res.ExitCode)
		return
	}
	index := parseStatsIndex(res.Stdout)
	for n := range containers {
		c := &containers[n]
		if s, ok := index[c.ID]; ok {
			c.Stats = s
			continue
		}
		if len(c.ID) >= 12 {
			if s, ok := index[c.ID[:12]]; ok {
				c.Stats = s
				continue
			}
		}
		for _, name := range c.Names {
			if s, ok := index[name]; ok {
				c.Stats = s
				break
			}
		}
	}
}

// ContainerStats samples a single container on demand. Unlike the bulk
// sample in Snapshot, a failed sample here is the caller's answer rather
// than a skipped merge.
func (i *Inspector) ContainerStats(ctx context.Context, containerID string) (*Stats, error) {
	if !containerIDPattern.MatchString(containerID) {
		return nil, fmt.Errorf("docker: invalid container id %q", containerID)
	}
	command := "docker stats " + containerID + " --no-stream --format '{{json .}}'"
	res, err := i.runner.Run(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("docker: stats %s: %w", containerID, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("docker: stats %s: %s", containerID, exitMessage(res))
	}
	for _, s := range parseStatsIndex(res.Stdout) {
		return s, nil
	}
	return nil, fmt.Errorf("docker: stats %s: no sample returned", containerID)
}

// Command runs one lifecycle action against a container. remove maps to
// rm -f so stopped and running containers behave the same.
func (i *Inspector) Command(ctx context.Context, containerID, action string) error {
	if !containerIDPattern.MatchString(containerID) {
		return fmt.Errorf("docker: invalid container id %q", containerID)
	}
	var command string
	switch action {
	case "start":
		command = "docker start "
	case "stop":
		command = "docker stop "
	case "restart":
		command = "docker restart "
	case "remove":
		command = "docker rm -f "
	default:
		return fmt.Errorf("docker: unsupported command %q", action)
	}
	res, err := i.runner.Run(ctx, command+containerID)
	if err != nil {
		return fmt.Errorf("docker: %s %s: %w", action, containerID, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("docker: %s %s: %s", action, containerID, exitMessage(res))
	}
	return nil
}

func exitMessage(res terminal.ExecResult) string {
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}

// Package monitor samples host health over a session's command runner.
//
// Every metric is best effort. A command that fails to run or parse only
// costs its own field; the merged Status still goes out. Only a transport
// level failure aborts a sample, since that means the session itself is gone.
package monitor

import (
	"context"
	"log"

	"github.com/portside-io/portside/backend/internal/terminal"
)

// Status is one merged sample in wire shape. Absent metrics marshal away.
type Status struct {
	OSName           string    `json:"osName,omitempty"`
	CPUModel         string    `json:"cpuModel,omitempty"`
	CPUPercent       *float64  `json:"cpuPercent,omitempty"`
	Memory           *MemStat  `json:"memory,omitempty"`
	Swap             *MemStat  `json:"swap,omitempty"`
	Disk             *DiskStat `json:"disk,omitempty"`
	LoadAvg          []float64 `json:"loadAvg,omitempty"`
	DefaultInterface string    `json:"defaultInterface,omitempty"`
	Network          *NetRate  `json:"network,omitempty"`
}

// MemStat mirrors one row of free -m.
type MemStat struct {
	TotalMB int64   `json:"totalMB"`
	UsedMB  int64   `json:"usedMB"`
	Percent float64 `json:"percent"`
}

// DiskStat mirrors the root filesystem row of df -k.
type DiskStat struct {
	TotalKB int64   `json:"totalKB"`
	UsedKB  int64   `json:"usedKB"`
	Percent float64 `json:"percent"`
}

// NetRate is the byte rate on the default interface since the previous tick.
type NetRate struct {
	RxBytesPerSec float64 `json:"rxBytesPerSec"`
	TxBytesPerSec float64 `json:"txBytesPerSec"`
}

// Sampler collects one Status per call for one session.
type Sampler struct {
	sessionID string
	runner    terminal.Runner
	rates     *RateCache
}

// NewSampler binds a sampler to a session's runner. The rate cache is shared
// across samplers and keyed by session id.
func NewSampler(sessionID string, runner terminal.Runner, rates *RateCache) *Sampler {
	return &Sampler{sessionID: sessionID, runner: runner, rates: rates}
}

// Sample runs the collection commands and merges whatever parsed. The error
// return is transport failure only; callers should treat it as fatal for the
// tick and report it once.
func (s *Sampler) Sample(ctx context.Context) (Status, error) {
	var st Status

	if out, ok, err := s.capture(ctx, "cat /etc/os-release"); err != nil {
		return Status{}, err
	} else if ok {
		st.OSName = parseOSRelease(out)
	}

	if out, ok, err := s.capture(ctx, "lscpu | grep 'Model name:'"); err != nil {
		return Status{}, err
	} else if ok {
		st.CPUModel = parseCPUModel(out)
	}

	if out, ok, err := s.capture(ctx, "free -m"); err != nil {
		return Status{}, err
	} else if ok {
		st.Memory, st.Swap = parseFree(out)
	}

	if out, ok, err := s.capture(ctx, "df -k / | tail -n1"); err != nil {
		return Status{}, err
	} else if ok {
		st.Disk = parseDiskRoot(out)
	}

	if out, ok, err := s.capture(ctx, "top -bn1 | grep '%Cpu(s)'"); err != nil {
		return Status{}, err
	} else if ok {
		st.CPUPercent = parseCPUPercent(out)
	}

	if out, ok, err := s.capture(ctx, "uptime"); err != nil {
		return Status{}, err
	} else if ok {
		st.LoadAvg = parseLoadAvg(out)
	}

	if out, ok, err := s.capture(ctx, "ip route get 1.1.1.1"); err != nil {
		return Status{}, err
	} else if ok {
		st.DefaultInterface = parseDefaultIface(out)
	}

	out, ok, err := s.capture(ctx, "cat /proc/net/dev")
	if err != nil {
		return Status{}, err
	}
	if ok {
		counters := parseNetDev(out)
		if st.DefaultInterface == "" {
			if c := chooseInterface(counters, ""); c != nil {
				st.DefaultInterface = c.Name
			}
		}
		if c := chooseInterface(counters, st.DefaultInterface); c != nil {
			if rate, ok := s.rates.Rate(s.sessionID, c.Rx, c.Tx); ok {
				st.Network = rate
			}
		}
	}

	return st, nil
}

// capture runs one command. A runner error means the transport is gone and
// bubbles up; a non-zero exit only disables this metric for the tick.
func (s *Sampler) capture(ctx context.Context, command string) (string, bool, error) {
	res, err := s.runner.Run(ctx, command)
	if err != nil {
		return "", false, err
	}
	if res.ExitCode != 0 {
		log.Printf("[monitor] session %s: %q exited %d, metric skipped", s.sessionID, command, res.ExitCode)
		return "", false, nil
	}
	return res.Stdout, true, nil
}

// chooseInterface prefers the named interface, then the first non-loopback.
func chooseInterface(list []IfaceCounters, preferred string) *IfaceCounters {
	if preferred != "" {
		for i := range list {
			if list[i].Name == preferred {
				return &list[i]
			}
		}
	}
	for i := range list {
		if list[i].Name != "lo" {
			return &list[i]
		}
	}
	return nil
}

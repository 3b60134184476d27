package monitor

import (
	"math"
	"strconv"
	"strings"
)

// parseOSRelease picks PRETTY_NAME, then NAME, from /etc/os-release.
func parseOSRelease(out string) string {
	var name string
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "PRETTY_NAME":
			if value != "" {
				return value
			}
		case "NAME":
			if name == "" {
				name = value
			}
		}
	}
	return name
}

// parseCPUModel takes the value after the colon of a "Model name:" line.
func parseCPUModel(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if _, value, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// parseFree reads the Mem: and Swap: rows of free -m. A missing Swap row
// reports zeros rather than omitting the field.
func parseFree(out string) (mem, swap *MemStat) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		total, err1 := strconv.ParseInt(fields[1], 10, 64)
		used, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		stat := &MemStat{TotalMB: total, UsedMB: used, Percent: usedPercent(used, total)}
		switch {
		case strings.HasPrefix(fields[0], "Mem"):
			mem = stat
		case strings.HasPrefix(fields[0], "Swap"):
			swap = stat
		}
	}
	if mem != nil && swap == nil {
		swap = &MemStat{}
	}
	return mem, swap
}

// parseDiskRoot reads the numbers row of df -k /. df wraps long device names
// onto their own line, so the row may or may not start with the device.
func parseDiskRoot(out string) *DiskStat {
	fields := strings.Fields(lastLine(out))
	if len(fields) < 4 {
		return nil
	}
	idx := 1
	if _, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
		idx = 0
	}
	if len(fields) < idx+4 {
		return nil
	}
	total, err1 := strconv.ParseInt(fields[idx], 10, 64)
	used, err2 := strconv.ParseInt(fields[idx+1], 10, 64)
	pct, err3 := strconv.ParseFloat(strings.TrimSuffix(fields[idx+3], "%"), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}
	return &DiskStat{TotalKB: total, UsedKB: used, Percent: round1(pct)}
}

// parseCPUPercent reads the idle column of top's %Cpu(s) line and reports
// 100 minus idle.
func parseCPUPercent(out string) *float64 {
	_, rest, ok := strings.Cut(out, ":")
	if !ok {
		return nil
	}
	for _, seg := range strings.Split(rest, ",") {
		fields := strings.Fields(seg)
		if len(fields) == 2 && fields[1] == "id" {
			idle, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil
			}
			v := round1(100 - idle)
			if v < 0 {
				v = 0
			}
			return &v
		}
	}
	return nil
}

// parseLoadAvg reads the three floats after "load average" in uptime output.
func parseLoadAvg(out string) []float64 {
	idx := strings.LastIndex(out, "load average")
	if idx < 0 {
		return nil
	}
	_, rest, ok := strings.Cut(out[idx:], ":")
	if !ok {
		return nil
	}
	loads := make([]float64, 0, 3)
	for _, tok := range strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' }) {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		loads = append(loads, v)
		if len(loads) == 3 {
			return loads
		}
	}
	return nil
}

// parseDefaultIface extracts the token after "dev" in ip route get output.
func parseDefaultIface(out string) string {
	tokens := strings.Fields(out)
	for i, tok := range tokens {
		if tok == "dev" && i+1 < len(tokens) {
			return tokens[i+1]
		}
	}
	return ""
}

// IfaceCounters is one interface's cumulative byte counters from
// /proc/net/dev, in file order.
type IfaceCounters struct {
	Name string
	Rx   uint64
	Tx   uint64
}

// parseNetDev reads /proc/net/dev. Per line: name, colon, sixteen counters;
// received bytes is the first, transmitted bytes the ninth.
func parseNetDev(out string) []IfaceCounters {
	var res []IfaceCounters
	for _, line := range strings.Split(out, "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 16 {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		res = append(res, IfaceCounters{Name: name, Rx: rx, Tx: tx})
	}
	return res
}

func usedPercent(used, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round1(float64(used) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

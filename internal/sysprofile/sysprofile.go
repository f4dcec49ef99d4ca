// Package sysprofile describes the machine a run executes on: accelerator,
// memory and platform. The profile is logged at start-up, decides whether
// the operator must confirm a CPU-only run, and is persisted with the
// artifact.
package sysprofile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Profile is the system description recorded with every artifact.
type Profile struct {
	Accelerator bool   `json:"accelerator"`
	GPU         string `json:"gpu"`
	VRAM        string `json:"vram"`
	CUDAVersion string `json:"cuda_version,omitempty"`
	RAM         string `json:"ram"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	CPUs        int    `json:"cpus"`
}

// WithLabels returns a copy of p with operator-provided labels applied.
// Recognised keys are gpu, vram, cuda_version and ram; setting gpu never
// changes whether an accelerator was detected.
func (p Profile) WithLabels(labels map[string]string) Profile {
	for k, v := range labels {
		switch k {
		case "gpu":
			p.GPU = v
		case "vram":
			p.VRAM = v
		case "cuda_version":
			p.CUDAVersion = v
		case "ram":
			p.RAM = v
		}
	}
	return p
}

// Detector inspects the host.
type Detector interface {
	Detect(ctx context.Context) Profile
}

// HostDetector inspects the local machine.
type HostDetector struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// MeminfoPath defaults to /proc/meminfo.
	MeminfoPath string
	// Timeout bounds the nvidia-smi query; defaults to 5s.
	Timeout time.Duration
}

// Detect never fails; anything it cannot determine is reported as "unknown".
func (d *HostDetector) Detect(ctx context.Context) Profile {
	lookupEnv := d.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	meminfo := d.MeminfoPath
	if meminfo == "" {
		meminfo = "/proc/meminfo"
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := Profile{
		GPU:  "none",
		VRAM: "n/a",
		RAM:  readTotalRAM(meminfo),
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		CPUs: runtime.NumCPU(),
	}

	// An empty or -1 device list hides every GPU from the trainer.
	if visible, set := lookupEnv("CUDA_VISIBLE_DEVICES"); set && (visible == "" || visible == "-1") {
		return p
	}

	smi, err := lookPath("nvidia-smi")
	if err != nil {
		return p
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(queryCtx, smi, "--query-gpu=name,memory.total,driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return p
	}
	name, vram, ok := ParseNvidiaSMI(out)
	if !ok {
		return p
	}
	p.Accelerator = true
	p.GPU = name
	p.VRAM = vram
	p.CUDAVersion, _ = lookupEnv("CUDA_VERSION")
	return p
}

// ParseNvidiaSMI extracts the first device's name and memory from
// `nvidia-smi --query-gpu=name,memory.total --format=csv,noheader` output.
func ParseNvidiaSMI(out []byte) (name, vram string, ok bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ",")
		if len(fields) < 2 {
			continue
		}
		name = strings.TrimSpace(fields[0])
		vram = strings.TrimSpace(fields[1])
		if name == "" {
			continue
		}
		return name, vram, true
	}
	return "", "", false
}

// readTotalRAM returns MemTotal from a meminfo file rounded to whole GB.
func readTotalRAM(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "unknown"
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			break
		}
		return fmt.Sprintf("%dGB", (kb+512*1024)/(1024*1024))
	}
	return "unknown"
}

package sysprofile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func noNvidiaSMI(string) (string, error) { return "", errors.New("not found") }

func TestParseNvidiaSMI(t *testing.T) {
	t.Parallel()

	name, vram, ok := ParseNvidiaSMI([]byte("NVIDIA GeForce RTX 4070 Laptop GPU, 8188 MiB, 550.54\nTesla T4, 15360 MiB, 550.54\n"))
	require.True(t, ok)
	assert.Equal(t, "NVIDIA GeForce RTX 4070 Laptop GPU", name)
	assert.Equal(t, "8188 MiB", vram)

	_, _, ok = ParseNvidiaSMI([]byte("No devices were found\n"))
	assert.False(t, ok)
}

func TestDetect_NoAccelerator(t *testing.T) {
	t.Parallel()
	meminfo := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(meminfo, []byte("MemTotal:       32768000 kB\nMemFree:  1 kB\n"), 0o644))

	d := &HostDetector{LookupEnv: lookup(nil), LookPath: noNvidiaSMI, MeminfoPath: meminfo}
	p := d.Detect(context.Background())

	assert.False(t, p.Accelerator)
	assert.Equal(t, "none", p.GPU)
	assert.Equal(t, "31GB", p.RAM)
	assert.Equal(t, runtime.GOOS, p.OS)
	assert.Equal(t, runtime.NumCPU(), p.CPUs)
}

func TestDetect_HiddenDevicesSkipQuery(t *testing.T) {
	t.Parallel()

	queried := false
	d := &HostDetector{
		LookupEnv: lookup(map[string]string{"CUDA_VISIBLE_DEVICES": "-1"}),
		LookPath: func(string) (string, error) {
			queried = true
			return "", errors.New("unexpected")
		},
		MeminfoPath: filepath.Join(t.TempDir(), "missing"),
	}
	p := d.Detect(context.Background())

	assert.False(t, queried)
	assert.False(t, p.Accelerator)
	assert.Equal(t, "unknown", p.RAM)
}

func TestDetect_WithFakeNvidiaSMI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for nvidia-smi")
	}
	t.Parallel()

	script := filepath.Join(t.TempDir(), "nvidia-smi")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'Tesla T4, 15360 MiB, 550.54'\n"), 0o755))

	d := &HostDetector{
		LookupEnv:   lookup(map[string]string{"CUDA_VERSION": "12.0"}),
		LookPath:    func(string) (string, error) { return script, nil },
		MeminfoPath: filepath.Join(t.TempDir(), "missing"),
	}
	p := d.Detect(context.Background())

	assert.True(t, p.Accelerator)
	assert.Equal(t, "Tesla T4", p.GPU)
	assert.Equal(t, "15360 MiB", p.VRAM)
	assert.Equal(t, "12.0", p.CUDAVersion)
}

func TestWithLabels(t *testing.T) {
	t.Parallel()

	p := Profile{GPU: "none", VRAM: "n/a", RAM: "16GB"}.WithLabels(map[string]string{
		"gpu":     "NVIDIA RTX 4070 Mobile",
		"vram":    "8GB",
		"unknown": "ignored",
	})

	assert.False(t, p.Accelerator)
	assert.Equal(t, "NVIDIA RTX 4070 Mobile", p.GPU)
	assert.Equal(t, "8GB", p.VRAM)
	assert.Equal(t, "16GB", p.RAM)
	assert.Empty(t, p.CUDAVersion)
}

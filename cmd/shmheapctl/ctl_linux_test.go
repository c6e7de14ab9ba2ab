//go:build linux

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shmheap/pkg/shm"
)

// run executes the command line and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		jsonOut, quiet, verbose = false, false, false
		createForce, removeMissingOK = false, false
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCreateInfoRemove(t *testing.T) {
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skip("/dev/shm not available")
	}
	name := fmt.Sprintf("shmheapctl-test-%d", os.Getpid())
	defer func() { _ = shm.Remove(name) }()

	out, err := run(t, "create", name, "--size", "65536")
	require.NoError(t, err)
	assert.Contains(t, out, "Created "+name+" (64.0 KiB)")

	_, err = run(t, "create", name, "--size", "4096")
	assert.ErrorIs(t, err, shm.ErrExists)

	_, err = run(t, "create", name, "--size", "8192", "--force")
	require.NoError(t, err)

	out, err = run(t, "info", name, "--heap-size", "4096", "--json")
	require.NoError(t, err)
	var info segmentInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, segmentInfo{Name: name, Size: 8192, HeapSize: 4096, Fits: true}, info)

	out, err = run(t, "info", name, "--heap-size", "65536")
	require.NoError(t, err)
	assert.Contains(t, out, "Too small for a 64.0 KiB heap")

	out, err = run(t, "remove", name)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed "+name)

	_, err = run(t, "remove", name)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = run(t, "remove", name, "--missing-ok")
	assert.NoError(t, err)

	_, err = run(t, "info", name)
	assert.Error(t, err)
}

func TestCreateRejectsBadInput(t *testing.T) {
	_, err := run(t, "create", "a/b", "--size", "4096")
	assert.ErrorIs(t, err, shm.ErrInvalidName)

	_, err = run(t, "create", "whatever", "--size", "0")
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "64.0 MiB", formatBytes(64<<20))
}

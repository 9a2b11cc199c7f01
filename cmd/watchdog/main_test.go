package main

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, ExitSuccess, run([]string{"-version"}, &out, io.Discard))
	assert.Equal(t, "watchdog dev (built unknown)\n", out.String())
}

func TestRun_CheckConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
docker:
  enabled: false
host:
  enabled: true
report:
  interval: 0
notify:
  webhook:
    url: https://hooks.example.com/abc
`)

	var out bytes.Buffer
	code := run([]string{"-config", path, "-check-config"}, &out, io.Discard)

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "monitors: health-checker, host-monitor\nnotifiers: file, webhook\n", out.String())
}

func TestRun_ConfigErrors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		args   []string
		stderr string
	}{
		{"unknown flag", []string{"-nope"}, "flag provided but not defined"},
		{"invalid file", []string{"-config", writeConfig(t, "server: [unclosed"), "-check-config"}, "configuration error"},
		{"invalid value", []string{"-config", writeConfig(t, "restart:\n  threshold: 0\n"), "-check-config"}, "restart.threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, ExitConfigError, run(tt.args, io.Discard, &stderr))
			assert.Contains(t, stderr.String(), tt.stderr)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitDockerError, exitCode(&ServerError{Op: "NewServer", Err: errors.New("no socket"), ExitCode: ExitDockerError}))
	assert.Equal(t, ExitConfigError, exitCode(errors.New("plain")))
}

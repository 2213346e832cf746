package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_VersionCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"actiond", "version"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "actiond")
}

func TestRun_HelpCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"actiond", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "USAGE")
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"actiond", "frobnicate"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Unknown command")
}

func TestRun_DefaultsToServer(t *testing.T) {
	started := false
	orig := startServer
	startServer = func() { started = true }
	defer func() { startServer = orig }()

	var out, errOut bytes.Buffer
	code := Run([]string{"actiond"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.True(t, started)
}

func TestRun_FlagArgumentStartsServer(t *testing.T) {
	started := false
	orig := startServer
	startServer = func() { started = true }
	defer func() { startServer = orig }()

	var out, errOut bytes.Buffer
	code := Run([]string{"actiond", "--profile=prod"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.True(t, started)
}

func TestLogLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG", "INFO": "INFO", "warn": "WARN", "error": "ERROR", "bogus": "INFO",
	}
	for in, want := range cases {
		assert.Equal(t, want, logLevel(in).String(), "input %q", in)
	}
}

package main

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return port
}

func TestRunRejectsUnknownRole(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	err := run(context.Background(), "orchestrator", false, logger)
	assert.Error(t, err)
}

func TestRunBootsAndStopsOnContextCancel(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	require.NoError(t, os.Setenv("SERVER_PORT", strconv.Itoa(freePort(t))))
	require.NoError(t, os.Setenv("IPC_SECURITY_ENABLED", "false"))
	require.NoError(t, os.Setenv("AUTH_ENABLED", "false"))
	defer os.Unsetenv("SERVER_PORT")
	defer os.Unsetenv("IPC_SECURITY_ENABLED")
	defer os.Unsetenv("AUTH_ENABLED")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, "router", false, logger) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after context cancellation")
	}
}

package main

import (
	"context"
	"testing"
	"time"

	"depositgate/internal/app/config"
)

func testConfig(listen string) config.Config {
	c := config.New()
	c.Server.Listen = listen
	c.Server.TimeoutRead = time.Second
	c.Server.TimeoutWrite = time.Second
	c.Server.TimeoutIdle = time.Second
	c.Database.Driver = config.StorageDriverMemory
	c.Telegram.AdminChatIDs = "-100"
	c.Dispatch.Delay = time.Millisecond
	c.Dispatch.CallTimeout = time.Second
	c.Session.Backend = config.SessionBackendMemory
	c.SecretKey = "test-secret"
	return c
}

func runServe(t *testing.T, ctx context.Context, c config.Config) error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, c)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	return nil
}

func TestServe_ListenFailureReturnsError(t *testing.T) {
	err := runServe(t, context.Background(), testConfig("127.0.0.1:not-a-port"))
	if err == nil {
		t.Fatal("expected a listen error")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	if err := runServe(t, ctx, testConfig("127.0.0.1:0")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

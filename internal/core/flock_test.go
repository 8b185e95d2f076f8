package core

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestFlockContendsWithExternalHolder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "flock", "testdata/lock.toml", "sleep", "0.2")
	if err := cmd.Start(); err != nil {
		t.Skip("flock command not available")
		return
	}
	time.Sleep(100 * time.Millisecond)

	fl, err := NewFlock("testdata/lock.toml")
	if err != nil {
		t.Fatal(err)
	}
	defer fl.Close()

	if err := fl.Lock(); err == nil {
		t.Error("Lock() succeeded while externally held")
	}

	if err := cmd.Wait(); err != nil {
		t.Logf("external flock command exited with error: %v", err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatal("timed out waiting for external flock command")
	}

	if err := fl.Lock(); err != nil {
		t.Fatal(err)
	}
	if err := fl.Unlock(); err != nil {
		t.Error(err)
	}
}

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ok(ctx context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, ok)
	c.RegisterFunc("redis", false, PingCheck("redis", func(context.Context) error {
		return errors.New("connection refused")
	}))

	assert.Equal(t, StatusUnknown, c.OverallStatus())

	results := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, results["store"].Status)
	assert.Equal(t, StatusUnhealthy, results["redis"].Status)
	assert.Equal(t, "connection refused", results["redis"].Error)
	assert.Equal(t, StatusDegraded, c.OverallStatus())

	c.RegisterFunc("lesson", true, CustomCheck(func() error { return errors.New("no lesson loaded") }))
	c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
	assert.Equal(t, []string{"lesson", "redis", "store"}, c.Names())
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{Name: "slow", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	}})
	c.RegisterFunc("broken", false, func(context.Context) CheckResult { panic("boom") })

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, "check panicked", results["broken"].Message)
	assert.Equal(t, "boom", results["broken"].Error)
}

func TestReport(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, ok)

	r := c.Report(context.Background(), false)
	assert.Equal(t, StatusHealthy, r.Status)
	assert.False(t, r.Ready)
	assert.Nil(t, r.Components)

	c.SetReady(true)
	r = c.Report(context.Background(), true)
	assert.True(t, r.Ready)
	assert.Contains(t, r.Components, "store")
}

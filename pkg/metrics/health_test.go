package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHealthAllHealthy(t *testing.T) {
	Reset()
	SetComponent("store", StatusHealthy, "")
	SetComponent("wal", StatusHealthy, "")

	h := GetHealth()
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, StatusHealthy, h.Components["store"])
	assert.Equal(t, StatusHealthy, h.Components["wal"])
}

func TestGetHealthUnhealthyComponent(t *testing.T) {
	Reset()
	SetComponent("store", StatusHealthy, "")
	SetComponent("ledger", StatusUnhealthy, "peer unreachable")

	h := GetHealth()
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, "unhealthy: peer unreachable", h.Components["ledger"])
}

func TestDisabledAndStoppedDoNotDegrade(t *testing.T) {
	Reset()
	SetComponent("store", StatusHealthy, "")
	SetComponent("cache", StatusDisabled, "")
	SetComponent("scheduler", StatusStopped, "")

	h := GetHealth()
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, StatusDisabled, h.Components["cache"])
	assert.Equal(t, StatusStopped, h.Components["scheduler"])
}

func TestSetComponentOverwrites(t *testing.T) {
	Reset()
	SetComponent("ledger", StatusUnhealthy, "down")
	SetComponent("ledger", StatusHealthy, "")

	h := GetHealth()
	assert.Equal(t, StatusHealthy, h.Status)
}

func TestVersionAndUptime(t *testing.T) {
	Reset()
	SetVersion("1.2.3")

	h := GetHealth()
	assert.Equal(t, "1.2.3", h.Version)
	assert.NotEmpty(t, h.Uptime)
}

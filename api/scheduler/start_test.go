package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/alarm-trigger-api/models"
)

type nopHub struct{}

func (nopHub) Deliver(event models.TriggerEvent) int { return 0 }

func TestStartRegistersScanOnce(t *testing.T) {
	s := New(nil, nopHub{}, WithInterval(time.Hour))

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)

	s.Stop()
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	s.Stop()
}

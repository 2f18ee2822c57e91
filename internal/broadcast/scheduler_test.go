package broadcast

import (
	"testing"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerDispatchesDueBroadcast(t *testing.T) {
	svc, gateway, _, _ := newTestService(t)

	past := time.Now().Add(-time.Minute)
	created, err := svc.Create(CreateInput{
		Name:        "overdue",
		Message:     "hello",
		Recipients:  []Recipient{{Phone: "+15550000001"}},
		ScheduledAt: &past,
	})
	require.NoError(t, err)

	scheduler := NewScheduler(svc, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, scheduler.Start())
	defer func() { <-scheduler.Stop().Done() }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := svc.Get(created.ID)
		require.NoError(t, err)
		if b.Status == models.BroadcastCompleted {
			assert.Len(t, gateway.calls, 1)
			assert.NotNil(t, b.StartedAt)
			assert.Equal(t, 1, b.Stats.Sent)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("scheduler never completed the due broadcast")
}

func TestSchedulerDefaultInterval(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	scheduler := NewScheduler(svc, 0, zerolog.Nop())
	assert.Equal(t, time.Minute, scheduler.interval)
}

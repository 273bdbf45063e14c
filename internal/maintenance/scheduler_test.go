package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingPurger struct {
	calls int
	err   error
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls++
	return 3, p.err
}

type countingEvicter struct{ calls int }

func (e *countingEvicter) EvictIdle() int {
	e.calls++
	return 1
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	purger := &countingPurger{}
	evicter := &countingEvicter{}

	require.NoError(t, s.Add(PurgeSMSCodes(purger, "0 */15 * * * *", zap.NewNop())))
	require.NoError(t, s.Add(EvictSessions(evicter, "@every 5m", zap.NewNop())))
	assert.Len(t, s.Status(), 2)

	require.NoError(t, s.RunNow(context.Background(), JobPurgeSMSCodes))
	require.NoError(t, s.RunNow(context.Background(), JobEvictSessions))
	assert.Equal(t, 1, purger.calls)
	assert.Equal(t, 1, evicter.calls)

	assert.Error(t, s.RunNow(context.Background(), "unknown"))
}

func TestSchedulerRecordsFailures(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	purger := &countingPurger{err: errors.New("db down")}
	require.NoError(t, s.Add(PurgeSMSCodes(purger, "0 0 * * * *", zap.NewNop())))

	err := s.RunNow(context.Background(), JobPurgeSMSCodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, "db down", s.Status()[0].LastErr)

	purger.err = nil
	require.NoError(t, s.RunNow(context.Background(), JobPurgeSMSCodes))
	assert.Empty(t, s.Status()[0].LastErr)
}

func TestSchedulerSpecs(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	assert.Error(t, s.Add(Job{Name: "bad", Spec: "every day", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Add(Job{Name: "off", Run: func(context.Context) error { return nil }}))
	assert.Empty(t, s.Status())

	assert.NoError(t, ValidateSpec("*/30 * * * * *"))
	assert.Error(t, ValidateSpec("* * * *"))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	s.Stop()
	s.Stop()
}

package cronx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cronxhq/cronx"
)

func TestJobOptions_BackoffDelay_Fixed(t *testing.T) {
	o := cronx.JobOptions{Backoff: cronx.BackoffFixed, FixedDelay: 250 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, o.BackoffDelay(1))
	assert.Equal(t, 250*time.Millisecond, o.BackoffDelay(5))
}

func TestJobOptions_BackoffDelay_FixedDefaultsWhenUnset(t *testing.T) {
	o := cronx.JobOptions{}
	assert.Equal(t, cronx.DefaultFixedDelay, o.BackoffDelay(1))
}

func TestJobOptions_BackoffDelay_Exponential(t *testing.T) {
	o := cronx.JobOptions{
		Backoff:           cronx.BackoffExponential,
		ExponentialBase:   1000 * time.Millisecond,
		ExponentialFactor: 2,
		ExponentialMax:    30 * time.Second,
	}
	assert.Equal(t, 1000*time.Millisecond, o.BackoffDelay(1))
	assert.Equal(t, 2000*time.Millisecond, o.BackoffDelay(2))
	assert.Equal(t, 4000*time.Millisecond, o.BackoffDelay(3))
}

func TestJobOptions_BackoffDelay_ExponentialClampsAtMax(t *testing.T) {
	o := cronx.JobOptions{
		Backoff:           cronx.BackoffExponential,
		ExponentialBase:   1000 * time.Millisecond,
		ExponentialFactor: 2,
		ExponentialMax:    5 * time.Second,
	}
	assert.Equal(t, 5*time.Second, o.BackoffDelay(10))
}

func TestJobOptions_BackoffDelay_AttemptBelowOneTreatedAsOne(t *testing.T) {
	o := cronx.JobOptions{Backoff: cronx.BackoffExponential, ExponentialBase: time.Second, ExponentialFactor: 2, ExponentialMax: time.Minute}
	assert.Equal(t, o.BackoffDelay(1), o.BackoffDelay(0))
}

func TestJobOptions_MaxAttempts(t *testing.T) {
	assert.Equal(t, 1, cronx.JobOptions{Retries: 0}.MaxAttempts())
	assert.Equal(t, 4, cronx.JobOptions{Retries: 3}.MaxAttempts())
}

func TestJob_Clone_DeepCopiesTimePointers(t *testing.T) {
	last := time.Now()
	next := last.Add(time.Minute)
	j := &cronx.Job{Name: "j", LastRun: &last, NextRun: &next}

	c := j.Clone()
	require := assert.New(t)
	require.Equal(*j.LastRun, *c.LastRun)
	require.NotSame(j.LastRun, c.LastRun)
	require.Equal(*j.NextRun, *c.NextRun)
	require.NotSame(j.NextRun, c.NextRun)
}

func TestJob_Clone_Nil(t *testing.T) {
	var j *cronx.Job
	assert.Nil(t, j.Clone())
}

func TestLock_Expired(t *testing.T) {
	now := time.Now()
	live := &cronx.Lock{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, live.Expired(now))

	stale := &cronx.Lock{ExpiresAt: now.Add(-time.Second)}
	assert.True(t, stale.Expired(now))

	var nilLock *cronx.Lock
	assert.True(t, nilLock.Expired(now))
}

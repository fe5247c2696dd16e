package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStopper struct {
	calls atomic.Int32
}

func (s *stubStopper) Stop() { s.calls.Add(1) }

func testSession(id string) *Session {
	return newSession(id, AdmitRequest{
		ChannelID:   "ch-1",
		ChannelName: "News HD",
		Fingerprint: FingerprintFrom("10.0.0.5", "TestPlayer/1.0"),
		ClientIP:    "10.0.0.5",
		UserAgent:   "TestPlayer/1.0",
	}, time.Now())
}

func TestSession_FirstChunkStartsStreaming(t *testing.T) {
	s := testSession("s1")
	assert.Equal(t, StateAdmitting, s.State())

	s.RecordChunk(188)
	assert.Equal(t, StateStreaming, s.State())

	s.markMonitoring()
	assert.Equal(t, StateMonitoring, s.State())

	// Bytes resuming pull the session back to streaming.
	s.RecordChunk(188)
	assert.Equal(t, StateStreaming, s.State())
}

func TestSession_MonitoringOnlyFromStreaming(t *testing.T) {
	s := testSession("s1")
	s.markMonitoring()
	assert.Equal(t, StateAdmitting, s.State())

	s.RecordChunk(1)
	require.True(t, s.BeginStop(EndReasonAdmin))
	s.markMonitoring()
	assert.Equal(t, StateStopping, s.State())
}

func TestSession_BeginStopIsIdempotent(t *testing.T) {
	s := testSession("s1")

	require.True(t, s.BeginStop(EndReasonIdleTimeout))
	assert.Equal(t, StateStopping, s.State())

	// The losing caller must not overwrite the reason.
	assert.False(t, s.BeginStop(EndReasonCrash))
	assert.Equal(t, EndReasonIdleTimeout, s.EndReason())

	s.FinishStop()
	assert.Equal(t, StateTerminated, s.State())
	assert.False(t, s.BeginStop(EndReasonAdmin))
}

func TestSession_ProbeBookkeeping(t *testing.T) {
	s := testSession("s1")

	assert.Equal(t, 1, s.RecordProbeFailure())
	assert.Equal(t, 2, s.RecordProbeFailure())

	// A poll is proof of life and clears the streak.
	s.RecordPoll()
	assert.Equal(t, 1, s.RecordProbeFailure())

	s.RecordProbeSuccess()
	assert.Equal(t, 1, s.RecordProbeFailure())
}

func TestSession_StopEncoder(t *testing.T) {
	s := testSession("s1")
	s.StopEncoder() // no encoder attached yet

	stopper := &stubStopper{}
	s.AttachEncoder(stopper)
	s.StopEncoder()
	assert.Equal(t, int32(1), stopper.calls.Load())
}

func TestSession_Snapshot(t *testing.T) {
	s := testSession("s1")
	s.RecordChunk(1000)
	s.RecordPoll()
	s.RecordError()

	info := s.Snapshot()
	assert.Equal(t, "s1", info.ID)
	assert.Equal(t, "ch-1", info.ChannelID)
	assert.Equal(t, "News HD", info.ChannelName)
	assert.Equal(t, StateStreaming, info.State)
	assert.Equal(t, "10.0.0.5", info.ClientIP)
	assert.Equal(t, uint64(1000), info.BytesOut)
	assert.Equal(t, uint64(1), info.ErrorCount)
	require.NotNil(t, info.LastByteAt)
	require.NotNil(t, info.LastPollAt)
	assert.Empty(t, info.EndReason)

	fresh := testSession("s2").Snapshot()
	assert.Nil(t, fresh.LastByteAt)
	assert.Nil(t, fresh.LastPollAt)
}

package transcoder

import (
	"context"
	"log/slog"
	"time"

	"github.com/asticode/go-astits"
)

// keepaliveVideoPID matches the encoder's first elementary PID so the
// tables the keepalive announces describe the same program the encoder
// emits (-mpegts_start_pid 256, PMT at 4096).
const keepaliveVideoPID = 256

// runKeepalive writes PAT/PMT tables to the sink on a cadence until the
// encoder produces its first byte. Tuner clients treat a silent socket as
// a dead tuner within a few seconds; valid tables keep them holding on
// while a slow upstream spins up. The gate swallows any table write that
// races the first media chunk, so stale PSI never lands between real
// packets.
func (s *Supervisor) runKeepalive(ctx context.Context, out *gatedWriter) {
	mux := astits.NewMuxer(ctx, out)
	if err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: keepaliveVideoPID,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		s.logger.Debug("keepalive muxer setup failed", slog.Any("error", err))
		return
	}
	mux.SetPCRPID(keepaliveVideoPID)

	ticker := time.NewTicker(s.keepaliveInterval())
	defer ticker.Stop()

	if _, err := mux.WriteTables(); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if out.MediaStarted() {
				return
			}
			if _, err := mux.WriteTables(); err != nil {
				return
			}
		}
	}
}

package server

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/internal/protocol"
)

// statsLoop broadcasts a statsUpdate frame to every live connection on a
// fixed period.
func (s *Server) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastStats()
		}
	}
}

func (s *Server) broadcastStats() {
	stats := s.collectStats()
	for _, sess := range s.registry.Snapshot() {
		// A session may have vanished or disconnected since the
		// snapshot; skip it silently.
		if sess.Open() {
			sess.SendFrame(stats)
		}
	}
}

func (s *Server) collectStats() protocol.StatsUpdate {
	players, playing := 0, 0
	for _, sess := range s.registry.Snapshot() {
		for _, p := range sess.Players() {
			players++
			if p.Playing() && !p.Paused() {
				playing++
			}
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := protocol.StatsUpdate{
		Op:             "statsUpdate",
		Players:        players,
		PlayingPlayers: playing,
		Uptime:         time.Since(s.started).Milliseconds(),
		Memory: protocol.MemoryStats{
			Free:      m.Sys - m.HeapAlloc,
			Used:      m.HeapAlloc,
			Allocated: m.Sys,
			Reserved:  m.Sys,
		},
		CPU: protocol.CPUStats{
			Cores: runtime.NumCPU(),
		},
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPU.SystemLoad = percents[0] / 100
	} else if err != nil {
		logrus.WithError(err).Debug("Failed to read system CPU load")
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if load, err := proc.CPUPercent(); err == nil {
			stats.CPU.ProcessLoad = load / 100
		}
	}
	return stats
}

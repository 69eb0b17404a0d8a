package loop

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/robot"
)

// controlInfo logs per-iteration timing. Lines where the achieved rate
// falls more than 1Hz below target are logged at warn. Both levels are
// throttled independently.
type controlInfo struct {
	logger *logging.Logger
	info   *rate.Sometimes
	warn   *rate.Sometimes
}

func newControlInfo(logger *logging.Logger, interval time.Duration) *controlInfo {
	if interval <= 0 {
		interval = time.Second
	}
	return &controlInfo{
		logger: logger,
		info:   &rate.Sometimes{First: 1, Interval: interval},
		warn:   &rate.Sometimes{First: 1, Interval: interval},
	}
}

// log reports one iteration. episode < 0 omits the episode index.
func (c *controlInfo) log(tel robot.Telemetry, dt time.Duration, fps, episode, frame int) {
	level, s := logging.LevelInfo, c.info
	if Degraded(dt, fps) {
		level, s = logging.LevelWarn, c.warn
	}
	if !c.logger.Enabled(level) {
		return
	}
	s.Do(func() {
		fields := ControlInfoFields(tel, dt, episode, frame)
		if level == logging.LevelWarn {
			c.logger.Warn("Control loop below target rate", append(fields, "fps", fps)...)
			return
		}
		c.logger.Info("Control loop", fields...)
	})
}

// Degraded reports whether an iteration of length dt missed the target
// fps by more than 1Hz.
func Degraded(dt time.Duration, fps int) bool {
	return fps > 0 && Rate(dt) < float64(fps-1)
}

// ControlInfoFields renders iteration timing and device telemetry as
// logger key/value pairs.
func ControlInfoFields(tel robot.Telemetry, dt time.Duration, episode, frame int) []any {
	var kv []any
	if episode >= 0 {
		kv = append(kv, "ep", episode)
	}
	kv = append(kv, "frame", frame, "dt", formatDt(dt.Seconds()))
	if tel == nil {
		return kv
	}
	for _, e := range tel.Entries() {
		kv = append(kv, telemetryName(e.Op, e.Component), formatDt(e.Seconds))
	}
	return kv
}

func telemetryName(op, component string) string {
	switch op {
	case robot.OpReadLeaderPos:
		return "dtRlead." + component
	case robot.OpWriteFollowerGoalPos:
		return "dtWfoll." + component
	case robot.OpReadFollowerPos:
		return "dtRfoll." + component
	case robot.OpReadCamera:
		return "dtR" + component
	default:
		return "dt." + op + "." + component
	}
}

func formatDt(seconds float64) string {
	return fmt.Sprintf("%.2fms(%.1fhz)", seconds*1000, 1/seconds)
}

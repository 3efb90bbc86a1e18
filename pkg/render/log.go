package render

import (
	"log/slog"

	"github.com/zurustar/scoresync/pkg/logger"
	"github.com/zurustar/scoresync/pkg/playback"
	"github.com/zurustar/scoresync/pkg/transport"
)

// LogRenderer reports frame changes to a logger: state and measure changes
// at Info, the sounding keys at Debug. It is the renderer of headless runs.
type LogRenderer struct {
	log *slog.Logger

	started bool
	state   playback.State
	measure int
	inside  bool
	active  int
}

// NewLogRenderer creates a log renderer. A nil logger means the global one.
func NewLogRenderer(log *slog.Logger) *LogRenderer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &LogRenderer{log: log}
}

// Render implements transport.Renderer.
func (r *LogRenderer) Render(fr transport.Frame) {
	if !r.started || fr.State != r.state {
		r.log.Info("Playback state", "state", fr.State.String(), "position", Clock(fr.Position))
		r.state = fr.State
	}
	if fr.HasMeasure && (!r.started || !r.inside || fr.Measure.Measure != r.measure) {
		r.log.Info("Measure", "measure", fr.Measure.Measure, "start", fr.Measure.Start, "position", Clock(fr.Position))
		r.measure = fr.Measure.Measure
	}
	r.inside = fr.HasMeasure
	if len(fr.Active) != r.active {
		pitches := make([]int, len(fr.Active))
		for i, n := range fr.Active {
			pitches[i] = int(n.Pitch)
		}
		r.log.Debug("Sounding", "position", Clock(fr.Position), "pitches", pitches)
		r.active = len(fr.Active)
	}
	r.started = true
}

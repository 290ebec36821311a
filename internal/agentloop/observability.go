package agentloop

import "context"

// MetricsRecorder is the subset of obslog.Metrics the loop needs. It is
// an interface, not a concrete dependency, so agentloop never imports
// obslog directly.
type MetricsRecorder interface {
	RecordLoopIteration(outcome string)
	RecordToolInvocation(toolName, outcome string)
}

// IterationTracer opens one span per Agent Loop iteration. The
// returned func ends the span.
type IterationTracer interface {
	StartIteration(ctx context.Context, sessionID string, iteration int) (context.Context, func())
}

// recordIteration is a nil-safe wrapper around Config.Metrics.
func (l *Loop) recordIteration(outcome string) {
	if l.cfg.Metrics == nil {
		return
	}
	l.cfg.Metrics.RecordLoopIteration(outcome)
}

// recordTool is a nil-safe wrapper around Config.Metrics.
func (l *Loop) recordTool(toolName, outcome string) {
	if l.cfg.Metrics == nil {
		return
	}
	l.cfg.Metrics.RecordToolInvocation(toolName, outcome)
}

// startIterationSpan is a nil-safe wrapper around Config.Tracer. The
// returned end func is always safe to call.
func (l *Loop) startIterationSpan(ctx context.Context, sessionID string, iteration int) (context.Context, func()) {
	if l.cfg.Tracer == nil {
		return ctx, func() {}
	}
	return l.cfg.Tracer.StartIteration(ctx, sessionID, iteration)
}

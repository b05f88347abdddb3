package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName  = "github.com/steveyegge/flaky"
	loggerName = "flaky"
)

// instruments holds lazily registered metric instruments.
type instruments struct {
	launchTotal  metric.Int64Counter
	timeoutTotal metric.Int64Counter
	killTotal    metric.Int64Counter
	testTotal    metric.Int64Counter
	readyHist    metric.Float64Histogram
}

var (
	instMu   sync.Mutex
	instOnce = &sync.Once{}
	inst     instruments
)

// resetInstruments forces re-registration against the current global
// provider. Called by Init after installing a real provider.
func resetInstruments() {
	instMu.Lock()
	defer instMu.Unlock()
	instOnce = &sync.Once{}
}

func get() *instruments {
	instMu.Lock()
	once := instOnce
	instMu.Unlock()

	once.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)
		inst.launchTotal, _ = m.Int64Counter("flaky.server.launch.total",
			metric.WithDescription("Server launch attempts"),
		)
		inst.timeoutTotal, _ = m.Int64Counter("flaky.server.ready_timeout.total",
			metric.WithDescription("Launch attempts that never observed the readiness sentinel"),
		)
		inst.killTotal, _ = m.Int64Counter("flaky.cleanup.kill.total",
			metric.WithDescription("Process cleanup sweeps by process name"),
		)
		inst.testTotal, _ = m.Int64Counter("flaky.test.run.total",
			metric.WithDescription("Test executions by result"),
		)
		inst.readyHist, _ = m.Float64Histogram("flaky.server.ready.seconds",
			metric.WithDescription("Time from spawn to readiness"),
			metric.WithUnit("s"),
		)
	})
	return &inst
}

// emit sends one log record through the global logger provider.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetTimestamp(time.Now())
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// Logf wraps a printf-style logger so every line is also emitted as an OTel
// log record. A nil next only emits.
func Logf(next func(format string, args ...interface{})) func(format string, args ...interface{}) {
	return func(format string, args ...interface{}) {
		if next != nil {
			next(format, args...)
		}
		emit(context.Background(), fmt.Sprintf(format, args...), otellog.SeverityInfo)
	}
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}

// RecordLaunch counts one server launch attempt.
func RecordLaunch(ctx context.Context, mode string, attempt int) {
	emit(ctx, "server.launch", otellog.SeverityInfo,
		otellog.String("mode", mode), otellog.Int("attempt", attempt))
	i := get()
	if i.launchTotal == nil {
		return
	}
	i.launchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Int("attempt", attempt),
	))
}

// RecordReady records time-to-ready for a successful launch.
func RecordReady(ctx context.Context, mode string, elapsed time.Duration) {
	i := get()
	if i.readyHist == nil {
		return
	}
	i.readyHist.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordReadyTimeout counts one launch attempt that timed out.
func RecordReadyTimeout(ctx context.Context, mode string) {
	emit(ctx, "server.ready_timeout", otellog.SeverityWarn, otellog.String("mode", mode))
	i := get()
	if i.timeoutTotal == nil {
		return
	}
	i.timeoutTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordKill counts one cleanup sweep.
func RecordKill(ctx context.Context, name string, err error) {
	i := get()
	if i.killTotal == nil {
		return
	}
	i.killTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("process", name),
		statusAttr(err),
	))
}

// RecordTestRun counts one test execution. The test name goes only to the
// log record; metrics stay low-cardinality.
func RecordTestRun(ctx context.Context, test string, pass int, passed bool) {
	result := "fail"
	sev := otellog.SeverityWarn
	if passed {
		result = "pass"
		sev = otellog.SeverityInfo
	}
	emit(ctx, "test.run", sev,
		otellog.String("test", test),
		otellog.Int("pass", pass),
		otellog.String("result", result),
	)

	i := get()
	if i.testTotal == nil {
		return
	}
	i.testTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("pass", pass),
		attribute.String("result", result),
	))
}

package utptrace

import "log"

// Logger is the minimal ambient logging surface the core needs: a
// debug-level channel for routine rejections and no-op transitions (section
// 7, conditions 1 and 2), and a warn-level channel for protocol anomalies
// the core tolerates but wants surfaced (condition 3). The teacher repo
// never pulled in a structured-logging dependency — it diagnoses with bare
// fmt.Printf — so this follows that register rather than introducing one,
// while still making both log levels swappable or silenceable in
// tests. See DESIGN.md.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// defaultLogger writes through the standard library's log package.
type defaultLogger struct{}

func (defaultLogger) Debugf(format string, args ...interface{}) {
	log.Printf("debug: "+format, args...)
}

func (defaultLogger) Warnf(format string, args ...interface{}) {
	log.Printf("warn: "+format, args...)
}

// NopLogger silences all output. Handy in tests that assert on sink events
// rather than log lines.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Warnf(string, ...interface{})  {}

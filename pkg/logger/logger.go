// Package logger provides a banner/section/colored-level call-site API
// (logger.Info, logger.Section, ...) backed by logrus instead of
// hand-rolled ANSI escapes.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Log levels, kept as named constants so call sites that already pass
// them through SetLevel don't need to change.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSuccess
)

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
	base.SetLevel(logrus.DebugLevel)
	base.SetOutput(os.Stdout)
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(level int) {
	switch level {
	case LevelDebug:
		base.SetLevel(logrus.DebugLevel)
	case LevelInfo:
		base.SetLevel(logrus.InfoLevel)
	case LevelWarn:
		base.SetLevel(logrus.WarnLevel)
	case LevelError, LevelSuccess:
		base.SetLevel(logrus.ErrorLevel)
	}
}

// Entry returns a logrus entry for code that wants structured fields
// instead of the printf-style helpers below.
func Entry() *logrus.Entry { return logrus.NewEntry(base) }

func Debug(format string, args ...interface{}) { base.Debugf(format, args...) }
func Info(format string, args ...interface{})  { base.Infof(format, args...) }
func Warn(format string, args ...interface{})  { base.Warnf(format, args...) }
func Error(format string, args ...interface{}) { base.Errorf(format, args...) }

// Success logs at info level tagged with a success field; logrus has no
// dedicated success level.
func Success(format string, args ...interface{}) {
	base.WithField("result", "success").Infof(format, args...)
}

// InfoCyan logs an info-level message flagged for highlighted display.
func InfoCyan(format string, args ...interface{}) {
	base.WithField("highlight", true).Infof(format, args...)
}

// Fatal logs at fatal level and exits the process.
func Fatal(format string, args ...interface{}) { base.Fatalf(format, args...) }

// Section prints a section header to stdout; cosmetic console output,
// not a structured log line.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n╔%s╗\n", border)
	fmt.Printf("║ %-57s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}

// Banner prints the application banner to stdout.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                             ║
║    ██████╗██╗  ██╗██╗   ██╗███╗   ██╗██╗  ██╗██╗     ██╗  ██╗
║   ██╔════╝██║  ██║██║   ██║████╗  ██║██║ ██╔╝██║     ██║ ██╔╝
║   ██║     ███████║██║   ██║██╔██╗ ██║█████╔╝ ██║     █████╔╝
║   ██║     ██╔══██║██║   ██║██║╚██╗██║██╔═██╗ ██║     ██╔═██╗
║   ╚██████╗██║  ██║╚██████╔╝██║ ╚████║██║  ██╗███████╗██║  ██╗
║    ╚═════╝╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═══╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
║                                                             ║
║              %-45s║
║                    Version %-33s║
║                                                             ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, title, version)
}

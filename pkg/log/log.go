// Package log provides named, leveled logging with colored console output
// and an optional plain-text file sink with date-based rotation.
package log

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level is the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name as it appears in file sink lines.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

var (
	debugCol = color.New(color.Faint).FprintfFunc()
	infoCol  = color.New(color.FgBlue).FprintfFunc()
	warnCol  = color.New(color.FgYellow).FprintfFunc()
	errorCol = color.New(color.FgRed).FprintfFunc()
)

var consoleSigil = map[Level]string{
	LevelDebug: "[d]",
	LevelInfo:  "[+]",
	LevelWarn:  "[*]",
	LevelError: "[!]",
}

var consoleCol = map[Level]func(w io.Writer, format string, a ...interface{}){
	LevelDebug: debugCol,
	LevelInfo:  infoCol,
	LevelWarn:  warnCol,
	LevelError: errorCol,
}

var ansiSeq = regexp.MustCompile("\x1b\\[[0-9;]*m")

// fileTimestamp leads every file sink line so rotation can recover the date
// from an old latest.log later.
const fileTimestamp = "2006-01-02 15:04:05"

const rotateTimestamp = "2006-01-02"

// ParseLevel maps a config level name to a Level.
func ParseLevel(name string) (Level, error) {
	switch name {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Options configures a root Logger.
type Options struct {
	// Verbose lets debug messages through to the console. The file sink
	// always records them.
	Verbose bool
	// Console overrides the console sink, used in tests. Defaults to stderr.
	Console io.Writer
}

// Logger writes leveled messages under a dotted name. Child loggers created
// with Named share the parent's sinks.
type Logger struct {
	name string
	sink *sink
}

type sink struct {
	mu         sync.Mutex
	console    io.Writer
	consoleMin Level
	file       *os.File
	taps       map[*Tap]struct{}
	now        func() time.Time
}

// New returns the root logger, named "harness".
func New(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	min := LevelInfo
	if opts.Verbose {
		min = LevelDebug
	}
	return &Logger{
		name: "harness",
		sink: &sink{
			console:    console,
			consoleMin: min,
			now:        time.Now,
		},
	}
}

// Named returns a child logger whose name is the receiver's name with
// "." and suffix appended. The child shares the receiver's sinks.
func (l *Logger) Named(suffix string) *Logger {
	return &Logger{
		name: l.name + "." + suffix,
		sink: l.sink,
	}
}

// Name returns the logger's dotted name.
func (l *Logger) Name() string {
	return l.name
}

// Verbose reports whether debug messages reach the console.
func (l *Logger) Verbose() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.consoleMin <= LevelDebug
}

// SetConsoleLevel changes the lowest level the console shows. The file
// sink records everything regardless.
func (l *Logger) SetConsoleLevel(min Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.consoleMin = min
}

// DebugMsg logs at debug level. Console output is gated by Verbose.
func (l *Logger) DebugMsg(format string, a ...interface{}) {
	l.write(LevelDebug, format, a...)
}

// InfoMsg logs at info level.
func (l *Logger) InfoMsg(format string, a ...interface{}) {
	l.write(LevelInfo, format, a...)
}

// WarnMsg logs at warn level.
func (l *Logger) WarnMsg(format string, a ...interface{}) {
	l.write(LevelWarn, format, a...)
}

// ErrorMsg logs at error level.
func (l *Logger) ErrorMsg(format string, a ...interface{}) {
	l.write(LevelError, format, a...)
}

func (l *Logger) write(lvl Level, format string, a ...interface{}) {
	msg := strings.TrimRight(fmt.Sprintf(format, a...), "\n")
	l.sink.emit(lvl, l.name, msg)
}

func (s *sink) emit(lvl Level, name, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil || len(s.taps) > 0 {
		prefix := fmt.Sprintf("%s [%s] %s: ", s.now().Format(fileTimestamp), lvl, name)
		line := indent(prefix+ansiSeq.ReplaceAllString(msg, ""), len(prefix))

		if s.file != nil {
			fmt.Fprintf(s.file, "%s\n", line)
		}
		for t := range s.taps {
			select {
			case t.ch <- line:
			default: // tap too slow, drop the line
			}
		}
	}

	if lvl < s.consoleMin {
		return
	}
	prefix := consoleSigil[lvl] + " " + name + ": "
	consoleCol[lvl](s.console, "%s\n", indent(prefix+msg, len(prefix)))
}

// indent pads every line after the first with width spaces so multi-line
// messages align under the start of the first line's text.
func indent(s string, width int) string {
	lines := strings.Split(s, "\n")
	if len(lines) == 1 {
		return s
	}
	pad := strings.Repeat(" ", width)
	for i := 1; i < len(lines); i++ {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

// OpenLogDir attaches a file sink at dir/latest.log, rotating any previous
// latest.log out of the way first. The old file is renamed to <date>.<n>.log
// where <date> is the leading timestamp read from its first line (INVALID
// when unparseable) and <n> is the first number not taken yet.
func (l *Logger) OpenLogDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("os.MkdirAll(%s): %w", dir, err)
	}

	latest := filepath.Join(dir, "latest.log")
	if err := l.rotate(dir, latest); err != nil {
		return err
	}

	f, err := os.OpenFile(latest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("os.OpenFile(%s): %w", latest, err)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file != nil {
		l.sink.file.Close()
	}
	l.sink.file = f
	return nil
}

func (l *Logger) rotate(dir, latest string) error {
	info, err := os.Stat(latest)
	if err != nil || info.IsDir() {
		return nil // nothing to rotate
	}

	label, err := readDateLabel(latest)
	if err != nil {
		return err
	}
	if label == "" {
		l.WarnMsg("invalid timestamp in previous log file, rotating as INVALID")
		label = "INVALID"
	}

	for n := 1; ; n++ {
		target := filepath.Join(dir, fmt.Sprintf("%s.%d.log", label, n))
		if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
			if err := os.Rename(latest, target); err != nil {
				return fmt.Errorf("os.Rename(%s, %s): %w", latest, target, err)
			}
			return nil
		}
	}
}

// readDateLabel reads the leading YYYY-MM-DD timestamp from the log file.
// It returns "" when the file does not start with a valid date.
func readDateLabel(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, len(rotateTimestamp))
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	label := string(buf[:n])
	if _, err := time.Parse(rotateTimestamp, label); err != nil {
		return "", nil
	}
	return label, nil
}

// Close detaches and closes the file sink, if any.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel は文字列からレベルを解析する
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Format は出力形式を表す
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

const componentField = "component"

// Logger はスレッドセーフなロガー
type Logger struct {
	entry *logrus.Logger
}

// Default はデフォルトのロガー
var Default = New(os.Stdout, LevelInfo)

// New は新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(minLevel.logrus())
	l.SetFormatter(&bracketFormatter{})
	return &Logger{entry: l}
}

// Discard は何も出力しないロガーを返す
func Discard() *Logger {
	return New(io.Discard, LevelError)
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.entry.SetLevel(level.logrus())
}

// SetFormat は出力形式を切り替える
func (l *Logger) SetFormat(f Format) {
	if l == nil {
		return
	}
	switch f {
	case FormatJSON:
		l.entry.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	default:
		l.entry.SetFormatter(&bracketFormatter{})
	}
}

// SetOutput は出力先を切り替える
func (l *Logger) SetOutput(out io.Writer) {
	if l == nil {
		return
	}
	l.entry.SetOutput(out)
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level Level, component string, fields map[string]any, format string, args ...any) {
	if l == nil {
		return
	}
	e := logrus.NewEntry(l.entry)
	if component != "" {
		e = e.WithField(componentField, component)
	}
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	e.Logf(level.logrus(), format, args...)
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(component string, format string, args ...any) {
	l.log(LevelDebug, component, nil, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(component string, format string, args ...any) {
	l.log(LevelInfo, component, nil, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(component string, format string, args ...any) {
	l.log(LevelWarn, component, nil, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(component string, format string, args ...any) {
	l.log(LevelError, component, nil, format, args...)
}

// InfoWithValues はキー・値ペア付きの情報ログを出力する
func (l *Logger) InfoWithValues(component, msg string, values map[string]any) {
	l.log(LevelInfo, component, values, "%s", msg)
}

// WarnWithValues はキー・値ペア付きの警告ログを出力する
func (l *Logger) WarnWithValues(component, msg string, values map[string]any) {
	l.log(LevelWarn, component, values, "%s", msg)
}

const timestampFormat = "2006-01-02 15:04:05.000"

// bracketFormatter は "[時刻] [レベル] [コンポーネント] メッセージ" 形式で出力する
type bracketFormatter struct{}

func (f *bracketFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	fmt.Fprintf(&b, "[%s] [%s]", e.Time.Format(timestampFormat), levelName(e.Level))
	if c, ok := e.Data[componentField].(string); ok && c != "" {
		fmt.Fprintf(&b, " [%s]", c)
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k != componentField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug.String()
	case logrus.InfoLevel:
		return LevelInfo.String()
	case logrus.WarnLevel:
		return LevelWarn.String()
	default:
		return LevelError.String()
	}
}

// グローバル関数（デフォルトロガーを使用）

// Info は情報ログを出力する
func Info(component string, format string, args ...any) {
	Default.Info(component, format, args...)
}

// Error はエラーログを出力する
func Error(component string, format string, args ...any) {
	Default.Error(component, format, args...)
}

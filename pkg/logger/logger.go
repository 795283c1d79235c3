package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger - структурированный логгер с парами ключ/значение:
// log.Info("Message sent", "conversation_id", id, "sender_id", userID)
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Fatal(msg string, keysAndValues ...interface{})
	With(keysAndValues ...interface{}) Logger
}

type zeroLogger struct {
	zlog zerolog.Logger
}

// New создает логгер с указанным уровнем (debug, info, warn, error)
func New(level string) Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewConsole - человекочитаемый вывод для локальной разработки
func NewConsole(level string) Logger {
	return NewWithWriter(level, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}

func NewWithWriter(level string, w io.Writer) Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return &zeroLogger{
		zlog: zerolog.New(w).Level(lvl).With().Timestamp().Logger(),
	}
}

// Nop - логгер, который ничего не пишет (для тестов)
func Nop() Logger {
	return &zeroLogger{zlog: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Debug(), msg, keysAndValues)
}

func (l *zeroLogger) Info(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Info(), msg, keysAndValues)
}

func (l *zeroLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Warn(), msg, keysAndValues)
}

func (l *zeroLogger) Error(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Error(), msg, keysAndValues)
}

func (l *zeroLogger) Fatal(msg string, keysAndValues ...interface{}) {
	l.write(l.zlog.Fatal(), msg, keysAndValues)
}

func (l *zeroLogger) With(keysAndValues ...interface{}) Logger {
	ctx := l.zlog.With()
	for i := 0; i < len(keysAndValues); i += 2 {
		key, value := pair(keysAndValues, i)
		ctx = ctx.Interface(key, value)
	}
	return &zeroLogger{zlog: ctx.Logger()}
}

func (l *zeroLogger) write(event *zerolog.Event, msg string, keysAndValues []interface{}) {
	if event == nil {
		return
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		key, value := pair(keysAndValues, i)
		switch v := value.(type) {
		case error:
			event = event.AnErr(key, v)
		case fmt.Stringer:
			event = event.Str(key, v.String())
		default:
			event = event.Interface(key, v)
		}
	}
	event.Msg(msg)
}

// pair возвращает ключ и значение; нечетный хвост логируется под ключом "!BADKEY"
func pair(keysAndValues []interface{}, i int) (string, interface{}) {
	if i+1 >= len(keysAndValues) {
		return "!BADKEY", keysAndValues[i]
	}
	key, ok := keysAndValues[i].(string)
	if !ok {
		key = fmt.Sprint(keysAndValues[i])
	}
	return key, keysAndValues[i+1]
}

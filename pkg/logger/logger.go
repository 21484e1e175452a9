package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	log  *slog.Logger
	once sync.Once
)

// Init configures the process-wide JSON logger. Safe to call more than once;
// only the first call takes effect.
func Init() {
	once.Do(func() {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	})
}

func Info(event string, fields map[string]interface{}) {
	ensure()
	log.Info(event, attrs(fields)...)
}

func Warn(event string, fields map[string]interface{}) {
	ensure()
	log.Warn(event, attrs(fields)...)
}

func Error(event string, err error, fields map[string]interface{}) {
	ensure()
	args := attrs(fields)
	if err != nil {
		args = append(args, "error", err.Error())
	}
	log.Error(event, args...)
}

func ensure() {
	if log == nil {
		Init()
	}
}

func attrs(fields map[string]interface{}) []any {
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	return args
}

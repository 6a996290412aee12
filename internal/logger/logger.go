package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Форматы вывода логов
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ServiceName попадает в каждую запись поля service.
const ServiceName = "escrow-ledger"

var Log *logrus.Logger

// Init инициализирует структурированный логгер. Неизвестный уровень означает info,
// неизвестный формат означает json.
func Init(level, format string) {
	Log = New(os.Stdout, level, format)
}

// New собирает логгер с заданным выводом. Используется и в тестах.
func New(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == FormatText {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	l.AddHook(serviceHook{})
	return l
}

type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = ServiceName
	}
	return nil
}

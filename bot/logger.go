package bot

import (
	"github.com/sirupsen/logrus"
)

var logger = logrus.NewEntry(logrus.StandardLogger())

func SetLogger(l *logrus.Entry) {
	logger = l
}

package checkproof

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "checkproof")

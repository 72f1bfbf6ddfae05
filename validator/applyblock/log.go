package applyblock

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "applyblock")

package candidates

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "candidates")

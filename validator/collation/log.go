package collation

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "collation")

package group

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "group")

package topshard

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "topshard")

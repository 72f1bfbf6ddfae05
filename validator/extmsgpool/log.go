package extmsgpool

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "extmsgpool")

package wspool

import (
	"github.com/go-i2p/logger"
)

// log is the package-level logger shared by pool components.
var log = logger.GetGoI2PLogger()

package audit

import "errors"

var errTestStop = errors.New("audit: test stop")

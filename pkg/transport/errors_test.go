package transport

import "errors"

var errTestBoom = errors.New("boom")

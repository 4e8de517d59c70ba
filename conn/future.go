package conn

import "github.com/kostja/native-driver-core/frame"

// Future is the pending-request handle a caller supplies to Execute. The
// connection resolves it exactly once: Resolve on a matching RESULT
// frame, Fail on a matching ERROR frame or when the connection closes
// while the request is still outstanding (spec.md §4.3's
// pending-request-failure-on-close rule).
type Future interface {
	Resolve(result frame.Result)
	Fail(err error)
}

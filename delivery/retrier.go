package delivery

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the attempt succeeded (2xx).
	Delivered Decision = iota

	// Retry means another attempt should follow after the fixed delay.
	Retry

	// Failed means no attempts remain.
	Failed
)

// Result holds the outcome of a single attempt.
type Result struct {
	Attempt    int
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// OK reports whether the attempt got a 2xx response.
func (r Result) OK() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Decide determines what to do after an attempt. Transport errors and
// every non-2xx status are treated alike: retry while attempts remain.
func Decide(res Result, attempt, maxAttempts int) Decision {
	if res.OK() {
		return Delivered
	}
	if attempt < maxAttempts {
		return Retry
	}
	return Failed
}

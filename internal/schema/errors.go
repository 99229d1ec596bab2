package schema

import "errors"

// Error taxonomy for the pipeline. Errors local to one dataset tag are
// recorded in the run report and never abort sibling pipelines; callers
// classify with errors.Is.
var (
	// ErrDiscoveryTimeout means the rendered page never reached a stable
	// state within the discovery timeout.
	ErrDiscoveryTimeout = errors.New("discovery timeout")

	// ErrNoLinksFound means a dataset tag's expected link is absent from
	// the rendered page. Non-fatal to other tags.
	ErrNoLinksFound = errors.New("no links found")

	// ErrFetch covers network failure, non-2xx status, or an empty body
	// after retries are exhausted.
	ErrFetch = errors.New("fetch failed")

	// ErrUnsupportedFormat means no parser matches the detected or
	// declared document format.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrStructureMismatch means a document's actual layout deviates from
	// the template an extractor expects. This usually signals a publisher
	// layout change, not a bug; the fix is a configuration update.
	ErrStructureMismatch = errors.New("structure mismatch")

	// ErrFieldTypeMismatch means a cell's value does not conform to the
	// canonical field type and no configured substitution applies.
	// Values are rejected, never coerced to sentinels.
	ErrFieldTypeMismatch = errors.New("field type mismatch")

	// ErrRunTimeout marks dataset tags cancelled by the per-run
	// wall-clock timeout.
	ErrRunTimeout = errors.New("run timeout")
)

package sandbox

import "errors"

// ErrTimeout is returned when a container run exceeds its configured
// wall-clock timeout. Analyzer.Run returns it wrapped together with the
// security findings already gathered from the workspace, so the test run
// yields no result while those findings still reach the caller (§7).
var ErrTimeout = errors.New("sandbox: container run exceeded wall-clock timeout")

// ErrNoFrameworkDetected is returned by DetectFramework when no declared
// marker file matched; Analyzer.Run turns it into an empty
// TestExecutionResult rather than failing the analysis (§4.9 step 4: "Non-recognized frameworks produce an empty result").
var ErrNoFrameworkDetected = errors.New("sandbox: no test framework detected")

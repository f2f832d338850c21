package chrometrace

type (
	// Trace is a capture in the Chrome Trace Event format, loadable in
	// chrome://tracing and Perfetto.
	Trace struct {
		TraceEvents     []Event           `json:"traceEvents"`
		DisplayTimeUnit displayTimeUnit   `json:"displayTimeUnit"`
		Metadata        map[string]string `json:"otherData,omitempty"`
	}

	// Event timestamps and durations are in microseconds.
	Event struct {
		Name     string                 `json:"name"`
		Category string                 `json:"cat,omitempty"`
		Phase    phase                  `json:"ph"`
		Ts       float64                `json:"ts"`
		Dur      float64                `json:"dur,omitempty"`
		Pid      int                    `json:"pid"`
		Tid      uint64                 `json:"tid"`
		Scope    string                 `json:"s,omitempty"`
		Args     map[string]interface{} `json:"args,omitempty"`
	}

	phase           string
	displayTimeUnit string
)

const (
	phaseComplete phase = "X"
	phaseInstant  phase = "i"
	phaseMetadata phase = "M"

	displayTimeUnitMs displayTimeUnit = "ms"

	CategoryFunction        = "function"
	CategoryCategory        = "category"
	CategorySynchronization = "synchronization"
	CategoryTag             = "tag"

	// captures are rendered as a single process
	pid = 1
)

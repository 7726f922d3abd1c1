package scenario

// Case is one test case within a scenario.
type Case struct {
	Operation string         `yaml:"operation"`
	Inputs    map[string]any `yaml:"inputs"`
	// Expect is "allowed" or "denied".
	Expect string `yaml:"expect"`
	// Kind optionally pins the error kind of a denial.
	Kind string `yaml:"kind,omitempty"`
	// Reason optionally requires a substring of the denial message.
	Reason string `yaml:"reason,omitempty"`
}

// Scenario is a named collection of policy test cases.
type Scenario struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index     int    `json:"index"`
	Passed    bool   `json:"passed"`
	Operation string `json:"operation"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Kind      string `json:"kind,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Mismatch  string `json:"mismatch,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}

package index

// Progress reports batch insertion progress for one context.
type Progress struct {
	Context     string `json:"indexContext"`
	OperationID string `json:"operationId,omitempty"`
	Processed   int    `json:"processed"`
	Total       int    `json:"total"`
	Percent     int    `json:"percent"`
}

// Status reports a lifecycle change worth telling the host about.
type Status struct {
	Event         string `json:"event"`
	Context       string `json:"indexContext,omitempty"`
	ActiveContext string `json:"activeContext"`
	ItemCount     int    `json:"itemCount"`
	Message       string `json:"message,omitempty"`
}

// Status events.
const (
	StatusContextSwitched = "contextSwitched"
	StatusIndexRebuilt    = "indexRebuilt"
	StatusIndexLoaded     = "indexLoaded"
)

package constants

// Severity labels carried by BurnoutAlert payloads.
const (
	SeverityHigh  = "HIGH"
	SeverityClear = "CLEAR"
)

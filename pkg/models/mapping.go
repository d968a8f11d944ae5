package models

// Location is a file/line coordinate on one side of the source map
// relationship. Zero column means "unspecified".
type Location struct {
	URL    string `json:"url"`
	Line   int    `json:"lineNumber"`
	Column int    `json:"columnNumber,omitempty"`
}

// MappingEntry pairs a source coordinate (as the editor sees it) with the
// device coordinate the runtime actually executes.
type MappingEntry struct {
	Source Location `json:"source"`
	Device Location `json:"device"`
}

package proxy

import (
	"encoding/json"
	"log"

	"github.com/metrobridge/metrobridge/internal/cdp"
	"github.com/metrobridge/metrobridge/pkg/models"
)

// CDP methods the proxy rewrites. Everything else is transparent passthrough.
const (
	methodSetBreakpoint    = "Debugger.setBreakpoint"
	methodCallFunctionOn   = "Runtime.callFunctionOn"
	methodPaused           = "Debugger.paused"
	methodRuntimeEnable    = "Runtime.enable"
	methodConsoleAPICalled = "Runtime.consoleAPICalled"
	methodMessageAdded     = "Console.messageAdded"
)

// evalContext tags a Runtime.callFunctionOn pending record with the metadata
// needed to reinterpret its result against the paused state it ran in.
type evalContext struct {
	ObjectID           string `json:"objectId"`
	ExecutionContextID int64  `json:"executionContextId"`
}

// forwardClientToTarget inspects a client-originated message, applying the
// source→device breakpoint rewrite and tracking every request so its
// response can be correlated. Reports whether the message should be sent on.
func (s *Session) forwardClientToTarget(m *cdp.Message) bool {
	switch m.Kind() {
	case cdp.KindResponse:
		// Reply to a target-originated request.
		return s.correlator.Resolve(cdp.TargetToClient, m)

	case cdp.KindRequest:
		p := &cdp.Pending{ClientID: *m.ID, TargetID: *m.ID, Method: m.Method}
		var handler cdp.Handler

		switch m.Method {
		case methodSetBreakpoint:
			if orig, ok := s.rewriteBreakpointParams(m); ok {
				p.Meta = orig
				handler = rewriteBreakpointResponse
			}
		case methodCallFunctionOn:
			var ec evalContext
			if err := json.Unmarshal(m.Params, &ec); err == nil {
				p.Meta = ec
			}
		}

		if !s.correlator.Track(cdp.ClientToTarget, p, handler) {
			log.Printf("Dropping request with duplicate pending id=%d", *m.ID)
			return false
		}
		return true

	default:
		return true
	}
}

// forwardTargetToClient inspects a target-originated message, mapping device
// coordinates in pause and console events back to source coordinates.
// Reports whether the message should be sent on.
func (s *Session) forwardTargetToClient(m *cdp.Message) bool {
	switch m.Kind() {
	case cdp.KindResponse:
		return s.correlator.Resolve(cdp.ClientToTarget, m)

	case cdp.KindRequest:
		p := &cdp.Pending{ClientID: *m.ID, TargetID: *m.ID, Method: m.Method}
		if !s.correlator.Track(cdp.TargetToClient, p, nil) {
			log.Printf("Dropping request with duplicate pending id=%d", *m.ID)
			return false
		}
		return true

	case cdp.KindEvent:
		switch m.Method {
		case methodPaused:
			s.rewritePausedEvent(m)
		case methodConsoleAPICalled:
			s.rewriteConsoleAPIEvent(m)
		case methodMessageAdded:
			s.rewriteConsoleMessage(m)
		}
		return true

	default:
		return true
	}
}

// rewriteBreakpointParams maps the breakpoint coordinate source→device in
// place, returning the original source location when a mapping applied.
// Unknown param fields are preserved.
func (s *Session) rewriteBreakpointParams(m *cdp.Message) (models.Location, bool) {
	var params map[string]interface{}
	if err := json.Unmarshal(m.Params, &params); err != nil {
		return models.Location{}, false
	}

	loc, ok := locationFromFields(params, "url", "lineNumber")
	if !ok {
		return models.Location{}, false
	}

	device, ok := s.mapping.SourceToDevice(loc)
	if !ok {
		return models.Location{}, false
	}

	params["url"] = device.URL
	params["lineNumber"] = device.Line
	if device.Column > 0 {
		params["columnNumber"] = device.Column
	}
	if err := m.SetParams(params); err != nil {
		log.Printf("Breakpoint rewrite failed: %v", err)
		return models.Location{}, false
	}
	return loc, true
}

// rewriteBreakpointResponse restores the original source coordinate in a
// setBreakpoint acknowledgement's actualLocation, when present.
func rewriteBreakpointResponse(p *cdp.Pending, m *cdp.Message) {
	orig, ok := p.Meta.(models.Location)
	if !ok || len(m.Result) == 0 {
		return
	}

	var result map[string]interface{}
	if err := json.Unmarshal(m.Result, &result); err != nil {
		return
	}
	actual, ok := result["actualLocation"].(map[string]interface{})
	if !ok {
		return
	}
	actual["url"] = orig.URL
	actual["lineNumber"] = orig.Line
	if orig.Column > 0 {
		actual["columnNumber"] = orig.Column
	}
	if err := m.SetResult(result); err != nil {
		log.Printf("Breakpoint response rewrite failed: %v", err)
	}
}

// rewritePausedEvent maps every call frame's device coordinate back to source
func (s *Session) rewritePausedEvent(m *cdp.Message) {
	var params map[string]interface{}
	if err := json.Unmarshal(m.Params, &params); err != nil {
		return
	}

	frames, ok := params["callFrames"].([]interface{})
	if !ok {
		return
	}

	changed := false
	for _, f := range frames {
		frame, ok := f.(map[string]interface{})
		if !ok {
			continue
		}
		url, _ := frame["url"].(string)
		loc, ok := frame["location"].(map[string]interface{})
		if !ok {
			continue
		}
		line, ok := intField(loc, "lineNumber")
		if !ok {
			continue
		}

		src, ok := s.mapping.DeviceToSource(models.Location{URL: url, Line: line})
		if !ok {
			continue
		}
		frame["url"] = src.URL
		loc["lineNumber"] = src.Line
		if src.Column > 0 {
			loc["columnNumber"] = src.Column
		}
		changed = true
	}

	if changed {
		if err := m.SetParams(params); err != nil {
			log.Printf("Paused event rewrite failed: %v", err)
		}
	}
}

// rewriteConsoleAPIEvent maps embedded stack-trace coordinates back to source
func (s *Session) rewriteConsoleAPIEvent(m *cdp.Message) {
	var params map[string]interface{}
	if err := json.Unmarshal(m.Params, &params); err != nil {
		return
	}

	stack, ok := params["stackTrace"].(map[string]interface{})
	if !ok {
		return
	}
	frames, ok := stack["callFrames"].([]interface{})
	if !ok {
		return
	}

	changed := false
	for _, f := range frames {
		frame, ok := f.(map[string]interface{})
		if !ok {
			continue
		}
		loc, ok := locationFromFields(frame, "url", "lineNumber")
		if !ok {
			continue
		}
		src, ok := s.mapping.DeviceToSource(loc)
		if !ok {
			continue
		}
		frame["url"] = src.URL
		frame["lineNumber"] = src.Line
		if src.Column > 0 {
			frame["columnNumber"] = src.Column
		}
		changed = true
	}

	if changed {
		if err := m.SetParams(params); err != nil {
			log.Printf("Console event rewrite failed: %v", err)
		}
	}
}

// rewriteConsoleMessage maps a Console.messageAdded location back to source
func (s *Session) rewriteConsoleMessage(m *cdp.Message) {
	var params map[string]interface{}
	if err := json.Unmarshal(m.Params, &params); err != nil {
		return
	}

	message, ok := params["message"].(map[string]interface{})
	if !ok {
		return
	}
	loc, ok := locationFromFields(message, "url", "line")
	if !ok {
		return
	}
	src, ok := s.mapping.DeviceToSource(loc)
	if !ok {
		return
	}
	message["url"] = src.URL
	message["line"] = src.Line
	if src.Column > 0 {
		message["column"] = src.Column
	}
	if err := m.SetParams(params); err != nil {
		log.Printf("Console message rewrite failed: %v", err)
	}
}

func locationFromFields(obj map[string]interface{}, urlKey, lineKey string) (models.Location, bool) {
	url, ok := obj[urlKey].(string)
	if !ok || url == "" {
		return models.Location{}, false
	}
	line, ok := intField(obj, lineKey)
	if !ok {
		return models.Location{}, false
	}
	return models.Location{URL: url, Line: line}, true
}

func intField(obj map[string]interface{}, key string) (int, bool) {
	switch v := obj[key].(type) {
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

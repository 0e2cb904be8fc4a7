package logstore

import (
	"fmt"
	"time"
)

// ResponseInfo describes what the server sent back with a failed call.
type ResponseInfo struct {
	Status       int
	Body         any
	ResponseTime time.Duration
}

// APIRequest records an outbound call.
func (s *Store) APIRequest(method, url string, body any) {
	if !s.Enabled() {
		return
	}
	s.Log(LevelInfo, CategoryAPI, fmt.Sprintf("API Request: %s %s", method, url), Data{
		Method:  method,
		URL:     url,
		Payload: body,
	})
}

// APIResponse records a completed call. Statuses of 400 and above are
// logged at error level.
func (s *Store) APIResponse(method, url string, status int, responseTime time.Duration, body any) {
	if !s.Enabled() {
		return
	}
	level := LevelInfo
	if status >= 400 {
		level = LevelError
	}
	s.Log(level, CategoryAPI, fmt.Sprintf("API Response: %s %s - %d", method, url, status), Data{
		Method:       method,
		URL:          url,
		Status:       status,
		ResponseTime: Millis(responseTime),
		Payload:      body,
	})
}

// APIError records a call the server answered with an error status. resp
// may be nil when no response details are known.
func (s *Store) APIError(method, url string, err error, resp *ResponseInfo) {
	if !s.Enabled() {
		return
	}
	data := Data{
		Method: method,
		URL:    url,
		Error:  errorText(err),
	}
	if resp != nil {
		data.Status = resp.Status
		data.ResponseTime = Millis(resp.ResponseTime)
		data.Payload = resp.Body
	}
	s.Log(LevelError, CategoryAPI, fmt.Sprintf("API Error: %s %s", method, url), data)
}

// Connectivity records a reachability event.
func (s *Store) Connectivity(message string, data Data) {
	if !s.Enabled() {
		return
	}
	s.Log(LevelInfo, CategoryConnectivity, message, data)
}

// Auth records an authentication event; failures are logged as warnings.
func (s *Store) Auth(action string, success bool, data Data) {
	if !s.Enabled() {
		return
	}
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	data.Action = action
	data.Success = Bool(success)
	s.Log(level, CategoryAuth, "Auth: "+action, data)
}

// UI records a user action.
func (s *Store) UI(action string, data Data) {
	if !s.Enabled() {
		return
	}
	data.Action = action
	s.Log(LevelDebug, CategoryUI, "UI: "+action, data)
}

// Error records an unexpected failure.
func (s *Store) Error(message string, err error, data Data) {
	if !s.Enabled() {
		return
	}
	if err != nil {
		data.Error = errorText(err)
	}
	s.Log(LevelError, CategoryError, message, data)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

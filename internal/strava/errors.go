package strava

import "fmt"

// APIError is returned for any non-2xx response from Strava.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava error %d: %s", e.StatusCode, e.Body)
}

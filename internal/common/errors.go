package common

import (
	"errors"
	"net/http"
)

// ErrorMapping ties a sentinel error to the response it produces.
type ErrorMapping struct {
	Err    error
	Status int
	Code   string
	// Message replaces err.Error() in the body when set.
	Message string
}

// ErrorTable renders domain errors as JSON error responses. Entries are
// matched with errors.Is in order, so list wrapped sentinels before the
// broader ones they wrap.
type ErrorTable []ErrorMapping

// Write renders err with the first matching entry, or with fallback. A nil
// err is treated as an internal error.
func (t ErrorTable) Write(w http.ResponseWriter, err error, fallback ErrorMapping) {
	m, ok := t.lookup(err)
	if !ok {
		m = fallback
		if m.Status == 0 {
			m.Status = http.StatusInternalServerError
		}
		if m.Code == "" {
			m.Code = "INTERNAL"
		}
		if m.Message == "" {
			m.Message = http.StatusText(m.Status)
		}
	}
	msg := m.Message
	if msg == "" {
		msg = err.Error()
	}
	JSONError(w, m.Status, m.Code, msg, nil)
}

func (t ErrorTable) lookup(err error) (ErrorMapping, bool) {
	if err == nil {
		return ErrorMapping{}, false
	}
	for _, m := range t {
		if errors.Is(err, m.Err) {
			return m, true
		}
	}
	return ErrorMapping{}, false
}

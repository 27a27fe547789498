package networking

import (
	"encoding/json"
	"net/http"
)

// Runs posted work immediately on the caller's goroutine.
type syncPoster struct{}

func (syncPoster) Post(work func()) bool {
	work()
	return true
}

func jsonDecode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

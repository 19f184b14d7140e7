package httpx

import (
	"fmt"
	"net/http"
	"strconv"
)

// QueryInt reads an integer query parameter, returning def when it is absent
// or empty. Negative values are rejected.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be an integer", key)
	}
	if n < 0 {
		return 0, fmt.Errorf("query parameter %q must not be negative", key)
	}
	return n, nil
}

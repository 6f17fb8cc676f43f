package httpx

import (
	"errors"
	"net/http"
)

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// StatusCode extracts an upstream HTTP status from err, or 0.
func StatusCode(err error) int {
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

func IsAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

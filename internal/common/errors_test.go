package common

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", fmt.Errorf("receipt 4: %w", ErrNotFound), http.StatusNotFound},
		{"invalid", NewAppError("BAD_ID", "id must be an integer", ErrInvalidInput), http.StatusBadRequest},
		{"validation", NewValidator().Field("limit", 0, IntRange(1, 10)).Error(), http.StatusBadRequest},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("HTTPStatus = %d, want %d", got, tc.want)
			}
		})
	}
}

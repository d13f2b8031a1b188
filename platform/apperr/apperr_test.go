package apperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestIsFollowsWrapping(t *testing.T) {
	err := fmt.Errorf("load order: %w", NotFound("order not found"))
	if !Is(err, KindNotFound) {
		t.Fatalf("expected wrapped not found to match")
	}
	if Is(err, KindGone) || Is(nil, KindNotFound) {
		t.Fatalf("unexpected match")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[*Error]int{
		NotFound("x"):    http.StatusNotFound,
		Gone("x"):        http.StatusGone,
		Unavailable("x"): http.StatusServiceUnavailable,
		{Message: "x"}:   http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := err.HTTPStatus(); got != want {
			t.Fatalf("%v: expected %d, got %d", err.Kind, want, got)
		}
	}
}

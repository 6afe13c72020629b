package autorouter

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/convoy/pkg/logger"
)

type sampleHandler struct {
	name string
}

func (h *sampleHandler) Start(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, "started by %s", h.name)
}

func (h *sampleHandler) Stop(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "stopped by %s", h.name)
}

// Wrong signatures are ignored
func (h *sampleHandler) Describe() string { return h.name }

func (h *sampleHandler) Fail(w http.ResponseWriter, r *http.Request) error { return nil }

func (h *sampleHandler) hidden(w http.ResponseWriter, r *http.Request) {}

func TestRoutes(t *testing.T) {
	routes, err := Routes(&sampleHandler{}, Options{Prefix: "/api/v1/", Namespace: "tracking"})
	require.NoError(t, err)
	assert.Equal(t, []Route{
		{Path: "/api/v1/tracking.Start", Method: "Start"},
		{Path: "/api/v1/tracking.Stop", Method: "Stop"},
	}, routes)
}

func TestRoutes_Validation(t *testing.T) {
	_, err := Routes(sampleHandler{}, Options{Namespace: "x"})
	assert.Error(t, err)

	_, err = Routes(&sampleHandler{}, Options{})
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	ar := New(mux, logger.NewNop())

	_, err := ar.Register(&sampleHandler{name: "ops"}, Options{Prefix: "/api/v1/", Namespace: "tracking"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tracking.Start", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "started by ops", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tracking.Describe", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegister_MiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	mux := http.NewServeMux()
	_, err := New(mux, logger.NewNop()).Register(&sampleHandler{}, Options{
		Prefix:     "/",
		Namespace:  "t",
		Middleware: []Middleware{tag("outer"), tag("inner")},
	})
	require.NoError(t, err)

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/t.Stop", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

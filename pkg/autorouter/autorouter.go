package autorouter

import (
	"fmt"
	"net/http"
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/pkg/logger"
)

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Options configures how a handler's methods are mounted
type Options struct {
	// Prefix is prepended to every path, e.g. "/api/v1/"
	Prefix string
	// Namespace becomes the method prefix, e.g. "tracking" -> "tracking.Start"
	Namespace string
	// Middleware is applied outermost first
	Middleware []Middleware
}

// Route is one registered endpoint
type Route struct {
	Path   string
	Method string
}

// AutoRouter mounts every exported func(http.ResponseWriter, *http.Request)
// method of a handler struct as a JSON-RPC endpoint
type AutoRouter struct {
	mux    *http.ServeMux
	logger *logger.Logger
}

// New creates a router over mux
func New(mux *http.ServeMux, log *logger.Logger) *AutoRouter {
	return &AutoRouter{
		mux:    mux,
		logger: log.WithComponent("autorouter"),
	}
}

var (
	responseWriterType = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	requestType        = reflect.TypeOf((*http.Request)(nil))
)

// Routes lists the endpoints Register would mount, sorted by path
func Routes(handler any, opts Options) ([]Route, error) {
	v := reflect.ValueOf(handler)
	t := v.Type()
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("handler must be a pointer to struct, got %s", t)
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("namespace is required for %s", t)
	}

	var routes []Route
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !isHandlerFunc(v.Method(i).Type()) {
			continue
		}
		routes = append(routes, Route{
			Path:   opts.Prefix + opts.Namespace + "." + m.Name,
			Method: m.Name,
		})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
	return routes, nil
}

// Register mounts the handler's methods and returns what it mounted
func (ar *AutoRouter) Register(handler any, opts Options) ([]Route, error) {
	routes, err := Routes(handler, opts)
	if err != nil {
		return nil, err
	}

	v := reflect.ValueOf(handler)
	for _, route := range routes {
		fn, ok := v.MethodByName(route.Method).Interface().(func(http.ResponseWriter, *http.Request))
		if !ok {
			return nil, fmt.Errorf("method %s has an unexpected signature", route.Method)
		}

		var h http.Handler = http.HandlerFunc(fn)
		for i := len(opts.Middleware) - 1; i >= 0; i-- {
			h = opts.Middleware[i](h)
		}
		ar.mux.Handle(route.Path, h)

		ar.logger.Debug("Registered endpoint",
			zap.String("path", route.Path),
			zap.String("method", route.Method),
			zap.Int("middleware", len(opts.Middleware)))
	}
	return routes, nil
}

func isHandlerFunc(t reflect.Type) bool {
	return t.NumIn() == 2 && t.NumOut() == 0 &&
		t.In(0) == responseWriterType &&
		t.In(1) == requestType
}

package middleware

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*
LEARNING: ONE TRACE PER DOCUMENT WRITE

Every request gets a root span named after its mux route, so all
PUT /api/data calls group together in Jaeger no matter the query string.
A write's trace then carries the "document.replaced" event from the handler
and the Hub.Publish / RedisRelay.Publish child spans of the fan-out.
*/

var tracer = otel.Tracer("room-panel")

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHeader carries the request ID both ways. A client may send a
// ksuid of its own to correlate its logs with ours.
const RequestIDHeader = "X-Request-ID"

// quietPaths are traced but not logged; displays and health checks hit them
// constantly.
var quietPaths = map[string]bool{
	"/api/health": true,
}

// TracingMiddleware starts the root span for a request, tags it with a
// request ID and logs the outcome.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFrom(r)
		route := routeName(r)

		ctx, span := tracer.Start(r.Context(), r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()
		ctx = context.WithValue(ctx, requestIDKey, requestID)
		w.Header().Set(RequestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", rec.status),
			attribute.Int64("http.response_time_ms", elapsed.Milliseconds()),
		)
		if rec.status >= 400 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}

		switch {
		case rec.status == http.StatusSwitchingProtocols:
			log.Printf("[%s] %s %s - upgraded to websocket", requestID, r.Method, r.URL.Path)
		case quietPaths[r.URL.Path] && rec.status < 400:
		default:
			log.Printf("[%s] %s %s - %d (%dms)", requestID, r.Method, r.URL.Path, rec.status, elapsed.Milliseconds())
		}
	})
}

func requestIDFrom(r *http.Request) string {
	if id, err := ksuid.Parse(r.Header.Get(RequestIDHeader)); err == nil {
		return id.String()
	}
	return ksuid.New().String()
}

// routeName is the matched mux path template, or the raw path when the
// middleware runs outside a router.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// ErrorRecoveryMiddleware turns a handler panic into a 500 and records it on
// the request span.
func ErrorRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				stack := debug.Stack()
				span := trace.SpanFromContext(r.Context())
				span.RecordError(errors.New("panic recovered"), trace.WithAttributes(
					attribute.String("panic.value", toString(v)),
					attribute.String("error.stacktrace", string(stack)),
				))
				span.SetStatus(codes.Error, "panic recovered")

				log.Printf("[%s] 🛑 PANIC: %v\n%s", GetRequestID(r.Context()), v, stack)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func toString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case error:
		return v.Error()
	}
	return "non-error panic value"
}

// CORSMiddleware lets an admin page on another origin read and write the
// document.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the status code for the span and the log line.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// StartSpan opens a child span of whatever span ctx carries.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddSpanError marks the span in ctx as failed. A nil err is ignored.
func AddSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// GetRequestID returns the request ID the tracing middleware stored, or
// "unknown" outside a traced request.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}

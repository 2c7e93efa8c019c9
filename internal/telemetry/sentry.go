// Package telemetry wires optional Sentry error reporting into the router
// and storage façade.
//
// Usage:
//
//	telemetry.Init(os.Getenv("SENTRY_DSN"), "pushduck", version)
//	defer telemetry.Flush()
//
//	telemetry.CaptureError(err, map[string]string{
//	    "route": route.Name(),
//	    "key":   key,
//	})
package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init initializes the Sentry SDK. Call once at process startup. dsn may be
// empty — Sentry is then disabled and every other function in this package
// becomes a no-op. release should be the library or application version.
func Init(dsn, appName, release string) error {
	env := os.Getenv("PUSHDUCK_ENV")
	if env == "" {
		env = "development"
	}

	if dsn == "" {
		fmt.Fprintf(os.Stderr, "[telemetry] SENTRY_DSN not set — Sentry disabled for %s\n", appName)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     release,

		// Sample 20% of transactions for performance monitoring.
		TracesSampleRate: 0.2,

		AttachStacktrace: true,

		Tags: map[string]string{
			"app": appName,
		},

		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return scrubPII(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}

	return nil
}

// CaptureError sends an error to Sentry with optional context tags — e.g.
// "route", "key", "action". Safe to call when Sentry is disabled.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered Sentry events to be sent. Call with defer in
// main().
func Flush() {
	sentry.Flush(2 * time.Second)
}

// PanicRecoveryMiddleware catches panics from the wrapped handler, reports
// them to Sentry with request context, and returns a 500 response instead
// of crashing the process.
func PanicRecoveryMiddleware(appName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					hub := sentry.CurrentHub().Clone()
					hub.Scope().SetRequest(r)
					hub.Scope().SetTag("app", appName)
					hub.Scope().SetTag("panic", "true")

					var err error
					switch v := rec.(type) {
					case error:
						err = v
					default:
						err = fmt.Errorf("panic: %v", v)
					}
					hub.CaptureException(err)
					hub.Flush(2 * time.Second)

					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// scrubPII removes information from Sentry events that this library's
// domain treats as sensitive: uploaded file names (which frequently embed
// account identifiers or document titles) and auth headers.
func scrubPII(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	if event.User.Email != "" {
		event.User.Email = "[redacted]"
	}
	event.User.IPAddress = ""

	if event.Request != nil {
		headers := event.Request.Headers
		for k := range headers {
			switch k {
			case "Authorization", "Cookie", "X-Api-Key", "X-Auth-Token":
				headers[k] = "[redacted]"
			}
		}
	}

	for _, extra := range []string{"file.name", "upload.metadata"} {
		if _, ok := event.Extra[extra]; ok {
			event.Extra[extra] = "[redacted]"
		}
	}

	return event
}

// Package sigmw verifies inbound request signatures at the server edge,
// for plain net/http stacks and for echo. Requests whose verification
// verdict is anything but valid are rejected before the handler runs;
// handlers can read the full verification result from the request
// context.
package sigmw

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/perimetra/sigil/sigerr"
	"github.com/perimetra/sigil/verifier"
)

// CodeNoVerifier is returned when middleware is built without a verifier.
const CodeNoVerifier = "no_verifier"

// Config configures verification middleware.
type Config struct {
	// Verifier checks each inbound request. Required.
	Verifier *verifier.Verifier

	// Policy names the policy requests are verified against. Empty uses
	// the verifier's default.
	Policy string

	// OnError handles rejected requests in the net/http middleware.
	// When nil, a bare 401 is written. Echo middleware ignores it and
	// returns an echo.HTTPError instead.
	OnError func(w http.ResponseWriter, r *http.Request, result *verifier.Result)
}

type resultKey struct{}

// Middleware returns net/http middleware verifying every request. The
// verification result is stored in the request context even when the
// request is rejected, so OnError can inspect it.
func Middleware(cfg Config) (func(http.Handler) http.Handler, error) {
	if cfg.Verifier == nil {
		return nil, sigerr.New(sigerr.KindConfiguration, CodeNoVerifier,
			"verifier must not be nil")
	}

	onError := cfg.OnError
	if onError == nil {
		onError = defaultOnError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := cfg.Verifier.VerifyRequest(r.Context(), r,
				&verifier.Options{Policy: cfg.Policy})

			r = r.WithContext(newResultContext(r.Context(), result))

			if !result.Valid() {
				onError(w, r, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

// EchoMiddleware returns the same verification as echo middleware.
// Rejections surface as an echo.HTTPError with status 401, which echo's
// error handler renders.
func EchoMiddleware(cfg Config) (echo.MiddlewareFunc, error) {
	if cfg.Verifier == nil {
		return nil, sigerr.New(sigerr.KindConfiguration, CodeNoVerifier,
			"verifier must not be nil")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			result := cfg.Verifier.VerifyRequest(r.Context(), r,
				&verifier.Options{Policy: cfg.Policy})

			c.SetRequest(r.WithContext(newResultContext(r.Context(), result)))

			if !result.Valid() {
				return echo.NewHTTPError(http.StatusUnauthorized,
					"signature verification returned "+string(result.Status))
			}

			return next(c)
		}
	}, nil
}

// ResultFromContext returns the verification result the middleware stored
// for this request.
func ResultFromContext(ctx context.Context) (*verifier.Result, bool) {
	result, ok := ctx.Value(resultKey{}).(*verifier.Result)
	return result, ok
}

func newResultContext(ctx context.Context, result *verifier.Result) context.Context {
	return context.WithValue(ctx, resultKey{}, result)
}

// defaultOnError writes a 401 Unauthorized response with no body.
func defaultOnError(w http.ResponseWriter, _ *http.Request, _ *verifier.Result) {
	w.WriteHeader(http.StatusUnauthorized)
}

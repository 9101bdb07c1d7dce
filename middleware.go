package main

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camber-images/camber/internal/imagereq"
)

// allowCrossOrigin emits the service's CORS headers on every response.
func allowCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "accept, content-type")
		w.Header().Set("Access-Control-Allow-Method", "GET")
		next.ServeHTTP(w, r)
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// statusRecorder captures the committed status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

// logRequest records one structured line per request: method, url,
// client, status and duration. Image GETs additionally carry the parsed
// transform parameters and whether the response came from the cache
// (a 307 to the durable URL) or was synthesized (a streamed 200).
func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r)

		client := r.Header.Get("X-Forwarded-For")
		if client == "" {
			client = r.RemoteAddr
		}

		ev := log.Info().
			Str("method", r.Method).
			Str("url", r.URL.RequestURI()).
			Str("client", client).
			Int("response_status", rec.status).
			Dur("response_time", time.Since(start))

		if r.Method == http.MethodGet {
			if params, err := imagereq.Parse(r.URL.Path, r.URL.RawQuery); err == nil && params.Resize {
				ev = ev.
					Str("id", params.ID).
					Int("width", params.Width).
					Int("height", params.Height).
					Str("fit", string(params.Fit)).
					Str("mime", params.MIME)

				switch rec.status {
				case http.StatusOK:
					ev = ev.Bool("cache_hit", false)
				case http.StatusTemporaryRedirect:
					ev = ev.Bool("cache_hit", true)
				}
			}
		}

		ev.Msg("request")
	})
}

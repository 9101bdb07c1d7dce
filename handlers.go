package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/camber-images/camber/internal/imagereq"
	"github.com/camber-images/camber/internal/store"
	"github.com/camber-images/camber/internal/transform"
)

// cacheLookup resolves a derivative key to its served URL. Satisfied by
// store.MemoIndex in production.
type cacheLookup interface {
	LookupCache(ctx context.Context, key store.CacheKey) (string, bool, error)
}

// renderer drives image synthesis. Satisfied by transform.Engine.
type renderer interface {
	Dimensions(ctx context.Context, path string) (int, int, error)
	Render(ctx context.Context, path string, g transform.Geometry, mime string, out io.Writer) error
	RenderBuffer(ctx context.Context, path string, g transform.Geometry, mime string) ([]byte, error)
	Normalize(ctx context.Context, src, dst, mime string) error
}

// artifactPopulator uploads an artifact and records it in the index.
type artifactPopulator interface {
	Populate(ctx context.Context, key store.CacheKey, artifact []byte) (string, error)
}

// tokenAuthority is the token lifecycle surface the handlers use.
type tokenAuthority interface {
	Issue(ctx context.Context, resourceID string) (string, error)
	Consume(ctx context.Context, tokenID, resourceID string) (int, error)
}

// service bundles the collaborators behind the HTTP surface. It is
// constructed once at startup; handlers hold no other state.
type service struct {
	index       cacheLookup
	tokens      tokenAuthority
	engine      renderer
	originals   transform.Originals
	populator   artifactPopulator
	constraints imagereq.Constraints
}

// statusForError maps the domain error taxonomy to response codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, imagereq.ErrInvalidRequest):
		return http.StatusNotFound
	case errors.Is(err, imagereq.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, store.ErrConflict):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// handleGetImage serves every GET image shape: density resize, plain
// resize and original passthrough. The interpreter decides which.
func handleGetImage(svc *service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := imagereq.Parse(r.URL.Path, r.URL.RawQuery)
		if err != nil {
			log.Info().Err(err).Str("path", r.URL.Path).Msg("rejected image request")
			requestError(w, statusForError(err))
			return
		}

		if !params.Resize {
			serveOriginal(svc, w, params)
			return
		}

		serveResize(svc, w, r, params)
	})
}

func serveOriginal(svc *service, w http.ResponseWriter, params imagereq.Params) {
	if !svc.originals.Exists(params.ID) {
		log.Warn().Str("id", params.ID).Msg("requested original does not exist")
		requestError(w, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", params.MIME)
	w.WriteHeader(http.StatusOK)
	if err := svc.originals.Copy(params.ID, w); err != nil {
		// status already committed; nothing to do but log
		log.Error().Err(err).Str("id", params.ID).Msg("original passthrough failed mid-stream")
	}
}

func serveResize(svc *service, w http.ResponseWriter, r *http.Request, params imagereq.Params) {
	ctx := r.Context()

	clamped, outOfBounds := svc.constraints.Clamp(params)
	if outOfBounds {
		w.Header().Set("Location", imagereq.CanonicalPath(clamped))
		w.Header().Set("X-Redirect-Info", imagereq.RedirectInfo)
		w.WriteHeader(http.StatusTemporaryRedirect)
		return
	}

	key := store.CacheKey{
		ID:     params.ID,
		Width:  params.Width,
		Height: params.Height,
		Fit:    params.Fit,
		MIME:   params.MIME,
	}

	url, hit, err := svc.index.LookupCache(ctx, key)
	if err != nil {
		log.Error().Err(err).Stringer("key", key).Msg("cache lookup failed")
		requestError(w, http.StatusInternalServerError)
		return
	}
	if hit {
		w.Header().Set("Location", url)
		w.Header().Set("Cache-Control", "public")
		w.WriteHeader(http.StatusTemporaryRedirect)
		return
	}

	if !svc.originals.Exists(params.ID) {
		log.Warn().Str("id", params.ID).Msg("requested original does not exist")
		requestError(w, http.StatusNotFound)
		return
	}
	sourcePath := svc.originals.Path(params.ID)

	origWidth, origHeight, err := svc.engine.Dimensions(ctx, sourcePath)
	if err != nil {
		log.Error().Err(err).Str("id", params.ID).Msg("dimension probe failed")
		requestError(w, http.StatusInternalServerError)
		return
	}

	geometry, err := transform.ComputeGeometry(origWidth, origHeight, params)
	if err != nil {
		log.Error().Err(err).Str("id", params.ID).Msg("geometry computation failed")
		requestError(w, http.StatusInternalServerError)
		return
	}

	// Render the cacheable artifact independently of the live stream.
	// The detached context keeps population running when the client
	// disconnects mid-stream; failures here are absorbed so the next
	// identical request retries synthesis.
	populateCtx := context.WithoutCancel(ctx)
	go func() {
		artifact, err := svc.engine.RenderBuffer(populateCtx, sourcePath, geometry, params.MIME)
		if err != nil {
			log.Error().Err(err).Stringer("key", key).Msg("artifact render failed")
			return
		}
		if _, err := svc.populator.Populate(populateCtx, key, artifact); err != nil {
			log.Error().Err(err).Stringer("key", key).Msg("cache population failed")
		}
	}()

	w.Header().Set("Content-Type", params.MIME)
	w.WriteHeader(http.StatusOK)
	if err := svc.engine.Render(ctx, sourcePath, geometry, params.MIME, w); err != nil {
		// the 200 is committed; the stream just ends short
		log.Error().Err(err).Stringer("key", key).Msg("live render failed mid-stream")
	}
}

type tokenRequest struct {
	ID string `json:"id"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func handlePostToken(svc *service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			requestError(w, http.StatusBadRequest)
			return
		}

		token, err := svc.tokens.Issue(r.Context(), req.ID)
		if errors.Is(err, store.ErrConflict) {
			log.Info().Str("id", req.ID).Msg("token refused: resource id already referenced")
			writeJSONError(w, http.StatusForbidden, "the requested image id is already requested")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("token issuance failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		log.Info().Str("id", req.ID).Msg("token issued")
		writeJSON(w, http.StatusOK, tokenResponse{Token: token})
	})
}

type uploadResponse struct {
	Status         string `json:"status"`
	ID             string `json:"id"`
	OriginalWidth  *int   `json:"original_width"`
	OriginalHeight *int   `json:"original_height"`
}

func handleUpload(svc *service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		params, err := imagereq.ParseOriginal(r.URL.Path)
		if err != nil {
			requestError(w, statusForError(err))
			return
		}

		sentToken := r.Header.Get("X-Token")
		affected, err := svc.tokens.Consume(r.Context(), sentToken, params.ID)
		if err != nil {
			log.Error().Err(err).Msg("token consumption failed")
			requestError(w, http.StatusInternalServerError)
			return
		}
		if affected != 1 {
			log.Warn().Str("id", params.ID).Msg("invalid or expired token used for upload")
			requestError(w, http.StatusForbidden)
			return
		}

		upload, _, err := r.FormFile("image")
		if err != nil {
			log.Error().Err(err).Msg("upload form parsing failed")
			requestError(w, http.StatusInternalServerError)
			return
		}
		defer upload.Close()

		tempPath, err := transform.SaveTemp(upload)
		if err != nil {
			log.Error().Err(err).Msg("upload staging failed")
			requestError(w, http.StatusInternalServerError)
			return
		}
		defer os.Remove(tempPath)

		// Originals are stored orientation-normalized so later geometry
		// computations see the dimensions a viewer would.
		destPath := svc.originals.Path(params.ID)
		if err := svc.engine.Normalize(r.Context(), tempPath, destPath, params.MIME); err != nil {
			log.Error().Err(err).Str("id", params.ID).Msg("writing original failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		// Dimensions are best effort: normalization may have rotated the
		// image, so the stored file is re-probed. A probe failure leaves
		// them null rather than failing the completed upload.
		resp := uploadResponse{Status: "OK", ID: params.ID}
		if width, height, err := svc.engine.Dimensions(r.Context(), destPath); err == nil {
			resp.OriginalWidth = &width
			resp.OriginalHeight = &height
		}

		log.Info().Str("id", params.ID).Msg("original stored")
		writeJSON(w, http.StatusOK, resp)
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func handleRobots(allowIndexing bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if allowIndexing {
			w.Write([]byte("User-agent: *\nAllow: /"))
		} else {
			w.Write([]byte("User-agent: *\nDisallow: /"))
		}
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// status already written; log is all that remains
		log.Info().Err(err).Msg("failed to write JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// drainRequestBody discards any unread request body so HTTP/1
// connections can be reused.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5mb max: after this we'll assume the client is broken or
		// malicious and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/internal/domain/catalog"
	"github.com/xenking/campus-canteen/internal/domain/order"
)

const maxBodySize = 1 << 20

var (
	errUnauthenticated = errors.New("authentication required")
	errUnavailable     = errors.New("item is not available")
	errNotTaking       = errors.New("canteen is not taking orders")
)

// requestError is a malformed request.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// decode reads the JSON request body into v.
func decode(r *http.Request, v any) error {
	d := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		return &requestError{msg: "invalid request body", err: err}
	}
	return nil
}

// decodeOptional is decode for requests whose body may be omitted.
func decodeOptional(r *http.Request, v any) error {
	if err := decode(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// statusOf maps an error to its HTTP status and client message.
func statusOf(err error) (int, string) {
	var (
		reqErr        *requestError
		transitionErr *order.InvalidTransitionError
		mixedErr      *order.MixedCanteenError
		persistErr    *order.PersistenceError
		opErr         *docstore.OpError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.Error()
	case errors.Is(err, order.ErrEmptyCart), errors.Is(err, catalog.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrUnauthenticated), errors.Is(err, errUnauthenticated),
		errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, order.ErrForbidden), errors.Is(err, catalog.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, order.ErrNotFound), errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &transitionErr), errors.As(err, &mixedErr),
		errors.Is(err, errUnavailable), errors.Is(err, errNotTaking),
		errors.Is(err, catalog.ErrReviewed):
		return http.StatusConflict, err.Error()
	case errors.As(err, &persistErr), errors.As(err, &opErr),
		errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable, "storage is unavailable, try again later"
	case errors.Is(err, context.Canceled):
		return 499, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail writes the response for err, logging server-side failures.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusOf(err)
	if code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeError(w, code, msg)
}

// writeError writes {"code":code,"message":msg}.
func writeError(w http.ResponseWriter, code int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		fail(w, r, errors.Wrap(err, "encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

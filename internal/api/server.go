package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	strictnethttp "github.com/oapi-codegen/runtime/strictmiddleware/nethttp"
)

// Request and response objects for each operation in openapi.yaml. The
// shapes follow oapi-codegen's strict-server output so handlers stay free of
// net/http plumbing.

// ListRunsParams are the query parameters of GET /runs.
type ListRunsParams struct {
	Status     *string `form:"status,omitempty" json:"status,omitempty"`
	MaxResults *int32  `form:"max_results,omitempty" json:"max_results,omitempty"`
	PageToken  *string `form:"page_token,omitempty" json:"page_token,omitempty"`
}

type TriggerRunRequestObject struct {
	Body *TriggerRunRequest
}

type ListRunsRequestObject struct {
	Params ListRunsParams
}

type GetRunRequestObject struct {
	RunID string
}

type ListRunAuditRequestObject struct {
	RunID string
}

type CancelRunRequestObject struct {
	RunID string
	Body  *CancelRunRequest
}

type TriggerRunResponseObject interface {
	VisitTriggerRunResponse(w http.ResponseWriter) error
}

type ListRunsResponseObject interface {
	VisitListRunsResponse(w http.ResponseWriter) error
}

type GetRunResponseObject interface {
	VisitGetRunResponse(w http.ResponseWriter) error
}

type ListRunAuditResponseObject interface {
	VisitListRunAuditResponse(w http.ResponseWriter) error
}

type CancelRunResponseObject interface {
	VisitCancelRunResponse(w http.ResponseWriter) error
}

type TriggerRun202ResponseHeaders struct {
	Location string
}

type TriggerRun202JSONResponse struct {
	Body    TriggerRunResponse
	Headers TriggerRun202ResponseHeaders
}

func (response TriggerRun202JSONResponse) VisitTriggerRunResponse(w http.ResponseWriter) error {
	w.Header().Set("Location", response.Headers.Location)
	return encodeJSON(w, http.StatusAccepted, response.Body)
}

type ListRuns200JSONResponse PaginatedRuns

func (response ListRuns200JSONResponse) VisitListRunsResponse(w http.ResponseWriter) error {
	return encodeJSON(w, http.StatusOK, PaginatedRuns(response))
}

type GetRun200JSONResponse Run

func (response GetRun200JSONResponse) VisitGetRunResponse(w http.ResponseWriter) error {
	return encodeJSON(w, http.StatusOK, Run(response))
}

type ListRunAudit200JSONResponse AuditEntries

func (response ListRunAudit200JSONResponse) VisitListRunAuditResponse(w http.ResponseWriter) error {
	return encodeJSON(w, http.StatusOK, AuditEntries(response))
}

type CancelRun202JSONResponse CancelRunResponse

func (response CancelRun202JSONResponse) VisitCancelRunResponse(w http.ResponseWriter) error {
	return encodeJSON(w, http.StatusAccepted, CancelRunResponse(response))
}

// StrictServerInterface is implemented by APIHandler.
type StrictServerInterface interface {
	// (POST /runs)
	TriggerRun(ctx context.Context, request TriggerRunRequestObject) (TriggerRunResponseObject, error)
	// (GET /runs)
	ListRuns(ctx context.Context, request ListRunsRequestObject) (ListRunsResponseObject, error)
	// (GET /runs/{run_id})
	GetRun(ctx context.Context, request GetRunRequestObject) (GetRunResponseObject, error)
	// (GET /runs/{run_id}/audit)
	ListRunAudit(ctx context.Context, request ListRunAuditRequestObject) (ListRunAuditResponseObject, error)
	// (POST /runs/{run_id}/cancel)
	CancelRun(ctx context.Context, request CancelRunRequestObject) (CancelRunResponseObject, error)
}

// ServerInterface is the net/http-facing side of the API, with path and
// query parameters already bound.
type ServerInterface interface {
	TriggerRun(w http.ResponseWriter, r *http.Request)
	ListRuns(w http.ResponseWriter, r *http.Request, params ListRunsParams)
	GetRun(w http.ResponseWriter, r *http.Request, runID string)
	ListRunAudit(w http.ResponseWriter, r *http.Request, runID string)
	CancelRun(w http.ResponseWriter, r *http.Request, runID string)
}

type (
	StrictHandlerFunc    = strictnethttp.StrictHTTPHandlerFunc
	StrictMiddlewareFunc = strictnethttp.StrictHTTPMiddlewareFunc
)

// StrictHTTPServerOptions routes decode failures and handler errors.
type StrictHTTPServerOptions struct {
	RequestErrorHandlerFunc  func(w http.ResponseWriter, r *http.Request, err error)
	ResponseErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// NewStrictHandlerWithOptions adapts ssi to ServerInterface.
func NewStrictHandlerWithOptions(ssi StrictServerInterface, middlewares []StrictMiddlewareFunc, options StrictHTTPServerOptions) ServerInterface {
	return &strictHandler{ssi: ssi, middlewares: middlewares, options: options}
}

type strictHandler struct {
	ssi         StrictServerInterface
	middlewares []StrictMiddlewareFunc
	options     StrictHTTPServerOptions
}

func (sh *strictHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var body TriggerRunRequest
	if err := decodeBody(r, &body, false); err != nil {
		sh.options.RequestErrorHandlerFunc(w, r, err)
		return
	}
	serveStrict(sh, w, r, "TriggerRun", TriggerRunRequestObject{Body: &body},
		sh.ssi.TriggerRun, TriggerRunResponseObject.VisitTriggerRunResponse)
}

func (sh *strictHandler) ListRuns(w http.ResponseWriter, r *http.Request, params ListRunsParams) {
	serveStrict(sh, w, r, "ListRuns", ListRunsRequestObject{Params: params},
		sh.ssi.ListRuns, ListRunsResponseObject.VisitListRunsResponse)
}

func (sh *strictHandler) GetRun(w http.ResponseWriter, r *http.Request, runID string) {
	serveStrict(sh, w, r, "GetRun", GetRunRequestObject{RunID: runID},
		sh.ssi.GetRun, GetRunResponseObject.VisitGetRunResponse)
}

func (sh *strictHandler) ListRunAudit(w http.ResponseWriter, r *http.Request, runID string) {
	serveStrict(sh, w, r, "ListRunAudit", ListRunAuditRequestObject{RunID: runID},
		sh.ssi.ListRunAudit, ListRunAuditResponseObject.VisitListRunAuditResponse)
}

func (sh *strictHandler) CancelRun(w http.ResponseWriter, r *http.Request, runID string) {
	request := CancelRunRequestObject{RunID: runID}
	var body CancelRunRequest
	if err := decodeBody(r, &body, true); err != nil {
		sh.options.RequestErrorHandlerFunc(w, r, err)
		return
	}
	request.Body = &body
	serveStrict(sh, w, r, "CancelRun", request,
		sh.ssi.CancelRun, CancelRunResponseObject.VisitCancelRunResponse)
}

// serveStrict runs call through the middleware chain and writes its typed
// response with visit.
func serveStrict[Req, Resp any](
	sh *strictHandler, w http.ResponseWriter, r *http.Request, operationID string, request Req,
	call func(context.Context, Req) (Resp, error), visit func(Resp, http.ResponseWriter) error,
) {
	var handler StrictHandlerFunc = func(ctx context.Context, _ http.ResponseWriter, _ *http.Request, request any) (any, error) {
		return call(ctx, request.(Req))
	}
	for _, middleware := range sh.middlewares {
		handler = middleware(handler, operationID)
	}

	response, err := handler(r.Context(), w, r, request)
	switch {
	case err != nil:
		sh.options.ResponseErrorHandlerFunc(w, r, err)
	case response == nil:
	default:
		valid, ok := response.(Resp)
		if !ok {
			sh.options.ResponseErrorHandlerFunc(w, r, fmt.Errorf("unexpected response type: %T", response))
			return
		}
		if err := visit(valid, w); err != nil {
			sh.options.ResponseErrorHandlerFunc(w, r, err)
		}
	}
}

// InvalidParamFormatError reports a path or query parameter that could not
// be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// ServerInterfaceWrapper binds parameters before calling the handler.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) TriggerRun(w http.ResponseWriter, r *http.Request) {
	siw.Handler.TriggerRun(w, r)
}

func (siw *ServerInterfaceWrapper) ListRuns(w http.ResponseWriter, r *http.Request) {
	var params ListRunsParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "status", query, &params.Status); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "status", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "max_results", query, &params.MaxResults); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "max_results", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "page_token", query, &params.PageToken); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "page_token", Err: err})
		return
	}
	siw.Handler.ListRuns(w, r, params)
}

func (siw *ServerInterfaceWrapper) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := siw.bindRunID(w, r)
	if !ok {
		return
	}
	siw.Handler.GetRun(w, r, runID)
}

func (siw *ServerInterfaceWrapper) ListRunAudit(w http.ResponseWriter, r *http.Request) {
	runID, ok := siw.bindRunID(w, r)
	if !ok {
		return
	}
	siw.Handler.ListRunAudit(w, r, runID)
}

func (siw *ServerInterfaceWrapper) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := siw.bindRunID(w, r)
	if !ok {
		return
	}
	siw.Handler.CancelRun(w, r, runID)
}

func (siw *ServerInterfaceWrapper) bindRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var runID string
	err := runtime.BindStyledParameterWithOptions("simple", "run_id", chi.URLParam(r, "run_id"), &runID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "run_id", Err: err})
		return "", false
	}
	return runID, true
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerWithOptions registers si's routes on options.BaseRouter, or on a
// new router when none is given.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{Handler: si, ErrorHandlerFunc: options.ErrorHandlerFunc}

	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/runs", wrapper.TriggerRun)
		r.Get(options.BaseURL+"/runs", wrapper.ListRuns)
		r.Get(options.BaseURL+"/runs/{run_id}", wrapper.GetRun)
		r.Get(options.BaseURL+"/runs/{run_id}/audit", wrapper.ListRunAudit)
		r.Post(options.BaseURL+"/runs/{run_id}/cancel", wrapper.CancelRun)
	})
	return r
}

func encodeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

// decodeBody decodes a JSON body into dst, rejecting unknown fields. An empty
// body is allowed when optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

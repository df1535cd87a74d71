package http

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"invoice-engine/internal/adapter/middleware"
	"invoice-engine/internal/domain/invoice"
	domainLifecycle "invoice-engine/internal/domain/lifecycle"
	"invoice-engine/internal/ocr"
	"invoice-engine/internal/usecase/ingest"
	"invoice-engine/internal/usecase/lifecycle"
)

// UploadConfig controls where uploads are spooled and how large they may be.
type UploadConfig struct {
	// Dir defaults to os.TempDir when empty.
	Dir      string
	MaxBytes int64
}

type InvoiceHandler struct {
	ingest    *ingest.Usecase
	lifecycle *lifecycle.Usecase
	upload    UploadConfig
	log       *slog.Logger
}

func NewInvoiceHandler(ing *ingest.Usecase, lc *lifecycle.Usecase, upload UploadConfig, logger *slog.Logger) *InvoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceHandler{ingest: ing, lifecycle: lc, upload: upload, log: logger}
}

type invoiceParams struct {
	InvoiceID string `param:"invoice_id" validate:"hex32"`
}

type canChangeParams struct {
	InvoiceID string `param:"invoice_id" validate:"hex32"`
	Status    string `param:"status" validate:"required"`
}

type changeStatusReq struct {
	InvoiceID string `param:"invoice_id" json:"-" validate:"hex32"`
	Status    *int   `json:"status" validate:"required,invstatus"`
	Reason    string `json:"reason" validate:"max=500"`
	// ExpectedVersion may also arrive as an If-Match header.
	ExpectedVersion *uint64 `json:"expected_version"`
}

type actionReq struct {
	InvoiceID string `param:"invoice_id" json:"-" validate:"hex32"`
	Action    string `param:"action" json:"-" validate:"required,max=64"`
}

type uploadForm struct {
	ProjectID string `form:"project_id" validate:"max=64"`
	Locale    string `form:"locale" validate:"omitempty,oneof=auto dot comma"`
}

type CanChangeResponse struct {
	InvoiceID string         `json:"invoice_id"`
	Status    invoice.Status `json:"status"`
	Allowed   bool           `json:"allowed"`
}

// TransitionErrorResponse is returned with 409 for a refused status change.
type TransitionErrorResponse struct {
	Error     string           `json:"error"`
	From      invoice.Status   `json:"from"`
	Attempted invoice.Status   `json:"attempted"`
	Legal     []invoice.Status `json:"legal"`
}

// UploadErrorResponse carries whatever OCR recovered before the upload failed.
type UploadErrorResponse struct {
	ErrorResponse
	OCR *invoice.OcrResult `json:"ocr,omitempty"`
}

func (h *InvoiceHandler) Upload(c echo.Context) error {
	var form uploadForm
	if err := c.Bind(&form); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid form"})
	}
	if err := c.Validate(&form); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "validation failed", Details: ToFieldErrors(err)})
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing file"})
	}
	if h.upload.MaxBytes > 0 && fh.Size > h.upload.MaxBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
	}

	path, cleanup, err := h.spool(fh)
	if err != nil {
		h.log.ErrorContext(c.Request().Context(), "spool upload", slog.String("file", fh.Filename), slog.Any("err", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
	defer cleanup()

	var project *string
	if p := strings.TrimSpace(form.ProjectID); p != "" {
		project = &p
	}
	res, err := h.ingest.Ingest(c.Request().Context(), ingest.Input{
		Path: path,
		File: invoice.FileMeta{
			Name:        filepath.Base(fh.Filename),
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Size:        fh.Size,
		},
		ProjectID:  project,
		UploadedBy: actor(c),
		Locale:     form.Locale,
	})
	if err != nil {
		return h.failUpload(c, res, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *InvoiceHandler) GetInvoice(c echo.Context) error {
	var p invoiceParams
	if bad := bindParams(c, &p); bad != nil {
		return c.JSON(http.StatusBadRequest, bad)
	}
	inv, err := h.lifecycle.Get(c.Request().Context(), p.InvoiceID)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set("ETag", etag(inv.Version))
	return c.JSON(http.StatusOK, inv)
}

func (h *InvoiceHandler) History(c echo.Context) error {
	var p invoiceParams
	if bad := bindParams(c, &p); bad != nil {
		return c.JSON(http.StatusBadRequest, bad)
	}
	rows, err := h.lifecycle.History(c.Request().Context(), p.InvoiceID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *InvoiceHandler) Transitions(c echo.Context) error {
	var p invoiceParams
	if bad := bindParams(c, &p); bad != nil {
		return c.JSON(http.StatusBadRequest, bad)
	}
	dto, err := h.lifecycle.GetValidTransitions(c.Request().Context(), p.InvoiceID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *InvoiceHandler) CanChangeStatus(c echo.Context) error {
	var p canChangeParams
	if bad := bindParams(c, &p); bad != nil {
		return c.JSON(http.StatusBadRequest, bad)
	}
	status, err := invoice.ParseStatus(p.Status)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid status",
			Details: []FieldError{{Field: "status", Message: err.Error()}},
		})
	}
	ok, err := h.lifecycle.CanChangeStatus(c.Request().Context(), p.InvoiceID, status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, CanChangeResponse{InvoiceID: p.InvoiceID, Status: status, Allowed: ok})
}

func (h *InvoiceHandler) ChangeStatus(c echo.Context) error {
	var req changeStatusReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: ToFieldErrors(err)})
	}
	expected := req.ExpectedVersion
	if expected == nil {
		v, ok, err := ifMatchVersion(c.Request().Header.Get("If-Match"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid If-Match"})
		}
		if ok {
			expected = &v
		}
	}
	dto, err := h.lifecycle.ChangeStatus(c.Request().Context(), lifecycle.ChangeStatusInput{
		InvoiceID:       req.InvoiceID,
		Status:          invoice.Status(*req.Status),
		ChangedBy:       actor(c),
		Reason:          strings.TrimSpace(req.Reason),
		ExpectedVersion: expected,
	})
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set("ETag", etag(dto.Version))
	return c.JSON(http.StatusOK, dto)
}

func (h *InvoiceHandler) WorkflowAction(c echo.Context) error {
	var req actionReq
	if bad := bindParams(c, &req); bad != nil {
		return c.JSON(http.StatusBadRequest, bad)
	}
	dto, err := h.lifecycle.ProcessWorkflowAction(c.Request().Context(), req.InvoiceID, domainLifecycle.Action(req.Action), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func etag(version uint64) string {
	return `"` + strconv.FormatUint(version, 10) + `"`
}

// ifMatchVersion reads an invoice version from an If-Match value such as
// "3", W/"3" or 3. An empty or "*" header carries no version.
func ifMatchVersion(h string) (uint64, bool, error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return 0, false, nil
	}
	h = strings.Trim(strings.TrimPrefix(h, "W/"), `"`)
	v, err := strconv.ParseUint(h, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// bindParams binds and validates path parameters, returning the 400 payload
// on failure.
func bindParams(c echo.Context, dst any) *ErrorResponse {
	if err := (&echo.DefaultBinder{}).BindPathParams(c, dst); err != nil {
		return &ErrorResponse{Error: "invalid path"}
	}
	if err := c.Validate(dst); err != nil {
		return &ErrorResponse{Error: "validation failed", Details: ToFieldErrors(err)}
	}
	return nil
}

func (h *InvoiceHandler) fail(c echo.Context, err error) error {
	var terr *invoice.InvalidTransitionError
	if errors.As(err, &terr) {
		legal := terr.Legal
		if legal == nil {
			legal = []invoice.Status{}
		}
		return c.JSON(http.StatusConflict, TransitionErrorResponse{
			Error:     terr.Error(),
			From:      terr.From,
			Attempted: terr.Attempted,
			Legal:     legal,
		})
	}
	code, body := h.errorResponse(c, err)
	return c.JSON(code, body)
}

func (h *InvoiceHandler) failUpload(c echo.Context, res *ingest.Result, err error) error {
	var partial *invoice.OcrResult
	if res != nil {
		partial = &res.OCR
	}
	if ocr.KindOf(err) != 0 {
		h.log.WarnContext(c.Request().Context(), "upload not readable",
			slog.String("kind", ocr.KindOf(err).String()), slog.Any("err", err))
		return c.JSON(http.StatusUnprocessableEntity, UploadErrorResponse{
			ErrorResponse: ErrorResponse{Error: ocr.UserMessage(err)},
			OCR:           partial,
		})
	}
	code, body := h.errorResponse(c, err)
	return c.JSON(code, UploadErrorResponse{ErrorResponse: body, OCR: partial})
}

func (h *InvoiceHandler) errorResponse(c echo.Context, err error) (int, ErrorResponse) {
	var verr *invoice.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "validation failed", Details: violationsToFieldErrors(verr)}
	case errors.Is(err, invoice.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found"}
	case errors.Is(err, invoice.ErrConcurrencyConflict), errors.Is(err, invoice.ErrDuplicateInvoiceNumber):
		return http.StatusConflict, ErrorResponse{Error: err.Error()}
	case errors.Is(err, invoice.ErrUnknownAction), errors.Is(err, invoice.ErrInvalidStatus):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	default:
		h.log.ErrorContext(c.Request().Context(), "request failed",
			slog.String("route", c.Path()), slog.Any("err", err))
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

// spool copies the upload to a temp file, keeping the extension the OCR
// pipeline uses to pick a format.
func (h *InvoiceHandler) spool(fh *multipart.FileHeader) (string, func(), error) {
	src, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	dst, err := os.CreateTemp(h.upload.Dir, "invoice-*"+ext)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(dst.Name()) }
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		cleanup()
		return "", nil, err
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return dst.Name(), cleanup, nil
}

// actor is the optional acting user; the usecases apply the default.
func actor(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(middleware.HeaderUserID))
}

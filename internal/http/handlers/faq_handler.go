package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/services"
	"github.com/tbourn/go-support-backend/internal/sysutil"
)

//
// DTOs
//

// CreateFAQRequest is the JSON payload for a new FAQ entry.
type CreateFAQRequest struct {
	Question string `json:"question" example:"How do I reset my password?"`
	Answer   string `json:"answer" example:"Open Settings > Security and choose Reset password."`
	// Category defaults to "General".
	Category string `json:"category" example:"Account"`
	// Keywords are derived from question and answer when omitted.
	Keywords []string `json:"keywords" example:"password,reset"`
	// Priority orders match candidates (1-10, higher first). Defaults to 1.
	Priority *int `json:"priority" example:"5"`
	// IsActive defaults to true.
	IsActive *bool `json:"is_active" example:"true"`
}

// UpdateFAQRequest is a partial update; omitted fields are unchanged.
type UpdateFAQRequest struct {
	Question *string   `json:"question"`
	Answer   *string   `json:"answer"`
	Category *string   `json:"category"`
	Keywords *[]string `json:"keywords"`
	Priority *int      `json:"priority"`
	IsActive *bool     `json:"is_active"`
}

// ListFAQsResponse wraps a page of FAQ entries.
type ListFAQsResponse struct {
	FAQs       []domain.FAQ `json:"faqs"`
	Pagination Pagination   `json:"pagination"`
}

// UploadFAQsResponse reports the outcome of a document upload. Dropped and
// Orphans count fragments the parser could not turn into entries.
type UploadFAQsResponse struct {
	Kind    string       `json:"kind" example:"text"`
	Created int          `json:"created" example:"12"`
	Dropped int          `json:"dropped" example:"1"`
	Orphans int          `json:"orphans" example:"0"`
	FAQs    []domain.FAQ `json:"faqs"`
}

//
// Handlers
//

// CreateFAQ godoc
// @ID          createFAQ
// @Summary     Create an FAQ entry
// @Tags        FAQs
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CreateFAQRequest  true  "FAQ entry"
// @Success     201   {object}  domain.FAQ
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /faqs [post]
func (h *Handlers) CreateFAQ(c *gin.Context) {
	var req CreateFAQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	f, err := h.faqs.Create(c.Request.Context(), services.FAQInput{
		Question: req.Question,
		Answer:   req.Answer,
		Category: req.Category,
		Keywords: req.Keywords,
		Priority: req.Priority,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, f)
}

// GetFAQ godoc
// @ID          getFAQ
// @Summary     Get an FAQ entry
// @Tags        FAQs
// @Produce     json
// @Param       id   path      string  true  "FAQ ID"  format(uuid)
// @Success     200  {object}  domain.FAQ
// @Failure     404  {object}  handlers.ErrorResponse  "FAQ not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /faqs/{id} [get]
func (h *Handlers) GetFAQ(c *gin.Context) {
	f, err := h.faqs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, f)
}

// ListFAQs godoc
// @ID          listFAQs
// @Summary     List FAQ entries (paginated)
// @Description Filters by category (case-blind) and a text query over question and answer.
// @Description Supports weak ETag via If-None-Match; the tag changes whenever any entry changes.
// @Tags        FAQs
// @Produce     json
// @Param       category       query   string  false "Category"                       example(Billing)
// @Param       q              query   string  false "Substring of question or answer" example(refund)
// @Param       active         query   bool    false "Only active entries"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListFAQsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /faqs [get]
func (h *Handlers) ListFAQs(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	filter := repo.FAQFilter{
		Category:   c.Query("category"),
		Query:      c.Query("q"),
		ActiveOnly: sysutil.IsTruthy(c.Query("active")),
	}

	if h.opts.DB != nil {
		// Unfiltered on purpose: any change to any entry must move the tag.
		if count, latest, err := repo.FAQsStats(ctx, h.opts.DB, repo.FAQFilter{}); err == nil {
			if notModified(c, "faqs", count, latest, "all") {
				return
			}
		}
	}

	items, total, err := h.faqs.ListPage(ctx, filter, page, pageSize)
	if err != nil {
		h.failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListFAQsResponse{
		FAQs:       items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// UpdateFAQ godoc
// @ID          updateFAQ
// @Summary     Update an FAQ entry
// @Description Partial update. Keywords are re-derived when the question or answer changes and no keywords are given.
// @Tags        FAQs
// @Accept      json
// @Produce     json
// @Param       id    path      string                     true  "FAQ ID"  format(uuid)
// @Param       body  body      handlers.UpdateFAQRequest  true  "Fields to change"
// @Success     200   {object}  domain.FAQ
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404   {object}  handlers.ErrorResponse  "FAQ not found"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /faqs/{id} [put]
func (h *Handlers) UpdateFAQ(c *gin.Context) {
	var req UpdateFAQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	f, err := h.faqs.Update(c.Request.Context(), c.Param("id"), services.FAQPatch{
		Question: req.Question,
		Answer:   req.Answer,
		Category: req.Category,
		Keywords: req.Keywords,
		Priority: req.Priority,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, f)
}

// DeleteFAQ godoc
// @ID          deleteFAQ
// @Summary     Delete an FAQ entry
// @Tags        FAQs
// @Param       id   path    string  true  "FAQ ID"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "FAQ not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /faqs/{id} [delete]
func (h *Handlers) DeleteFAQ(c *gin.Context) {
	if err := h.faqs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.failErr(c, err, ErrCodeDeleteFailed)
		return
	}
	noContent(c)
}

// UploadFAQs godoc
// @ID          uploadFAQs
// @Summary     Import FAQ entries from a document
// @Description Accepts a plain-text or PDF document of question/answer pairs.
// @Description Lines starting with "Q:" or "Question:" open a question and "A:" or "Answer:" its answer; other lines continue the current field.
// @Description Fragments that cannot form a pair are counted in dropped and orphans.
// @Tags        FAQs
// @Accept      multipart/form-data
// @Produce     json
// @Param       file      formData  file    true   "Document (text/plain or application/pdf)"
// @Param       category  formData  string  false  "Category for every imported entry"
// @Success     201  {object}  handlers.UploadFAQsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     413  {object}  handlers.ErrorResponse  "Document too large"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /faqs/upload [post]
func (h *Handlers) UploadFAQs(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "document too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" is required")
		return
	}
	if fh.Size > h.opts.UploadMaxBytes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "document too large")
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.failErr(c, err, ErrCodeUploadFailed)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.opts.UploadMaxBytes))
	if err != nil {
		h.failErr(c, err, ErrCodeUploadFailed)
		return
	}

	rep, err := h.faqs.Ingest(c.Request.Context(), services.IngestRequest{
		Data:     data,
		Kind:     kindHint(fh.Header.Get("Content-Type"), fh.Filename),
		Category: c.PostForm("category"),
	})
	if err != nil {
		h.failErr(c, err, ErrCodeUploadFailed)
		return
	}
	ok(c, http.StatusCreated, UploadFAQsResponse{
		Kind:    string(rep.Kind),
		Created: rep.Created,
		Dropped: rep.Dropped,
		Orphans: rep.Orphans,
		FAQs:    rep.FAQs,
	})
}

// kindHint prefers a specific part content type over the file name. Browsers
// send application/octet-stream for unknown types, which says nothing.
func kindHint(contentType, filename string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		return filename
	}
	return ct
}

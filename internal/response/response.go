package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of every JSON answer of the API.
type Response struct {
	Data       interface{} `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody carries the code, its message and, for validation failures,
// the offending fields.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination describes page of perPage items out of total.
func NewPagination(page, perPage, total int) *Pagination {
	p := &Pagination{Page: page, PerPage: perPage, TotalItems: total}
	if perPage > 0 {
		p.TotalPages = (total + perPage - 1) / perPage
	}
	return p
}

// Metadata ties a response to its request for log correlation.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ─── Success ────────────────────────────────────────────────────────────────

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, envelope(c, data, nil, nil))
}

func SuccessWithPagination(c *gin.Context, statusCode int, data interface{}, pagination *Pagination) {
	c.JSON(statusCode, envelope(c, data, nil, pagination))
}

// ─── Failure ────────────────────────────────────────────────────────────────

// Fail sends an error envelope for code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, envelope(c, nil, errorBody(code, nil), nil))
}

// FailWithFields sends an error envelope with per-field messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, envelope(c, nil, errorBody(code, fields), nil))
}

// AbortFail stops the middleware chain with an error envelope.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, envelope(c, nil, errorBody(code, nil), nil))
}

func errorBody(code ErrCode, fields map[string]string) *ErrorBody {
	return &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields}
}

func envelope(c *gin.Context, data interface{}, errBody *ErrorBody, pagination *Pagination) Response {
	return Response{
		Data:       data,
		Error:      errBody,
		Pagination: pagination,
		Metadata: Metadata{
			RequestID: RequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

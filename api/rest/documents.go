package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/pantry/audit"
	"github.com/kasuganosora/pantry/docstore"
	mw "github.com/kasuganosora/pantry/middleware"
)

// DocHandler exposes a docstore.Store over REST.
type DocHandler struct {
	store docstore.Store
	audit *audit.Service
}

// NewDocHandler creates a new DocHandler. audit may be nil.
func NewDocHandler(store docstore.Store, a *audit.Service) *DocHandler {
	return &DocHandler{store: store, audit: a}
}

type fieldsRequest struct {
	Fields docstore.Fields `json:"fields"`
}

// List handles GET /v1/docs/:collection.
func (h *DocHandler) List(c *gin.Context) {
	docs, err := h.store.List(c.Request.Context(), c.Param("collection"))
	if err != nil {
		abortStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// Get handles GET /v1/docs/:collection/:id.
func (h *DocHandler) Get(c *gin.Context) {
	doc, err := h.store.Get(c.Request.Context(), c.Param("collection"), c.Param("id"))
	if err != nil {
		abortStore(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Set handles PUT /v1/docs/:collection/:id[?merge=true].
func (h *DocHandler) Set(c *gin.Context) {
	start := time.Now()
	var req fieldsRequest
	if !bindJSON(c, &req) {
		return
	}
	merge, _ := strconv.ParseBool(c.Query("merge"))
	err := h.store.Set(c.Request.Context(), c.Param("collection"), c.Param("id"), req.Fields, merge)
	h.record(c, audit.ActionSet, req, err, start)
	if err != nil {
		abortStore(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Update handles PATCH /v1/docs/:collection/:id.
func (h *DocHandler) Update(c *gin.Context) {
	start := time.Now()
	var req fieldsRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.store.Update(c.Request.Context(), c.Param("collection"), c.Param("id"), req.Fields)
	h.record(c, audit.ActionUpdate, req, err, start)
	if err != nil {
		abortStore(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /v1/docs/:collection/:id.
func (h *DocHandler) Delete(c *gin.Context) {
	start := time.Now()
	err := h.store.Delete(c.Request.Context(), c.Param("collection"), c.Param("id"))
	h.record(c, audit.ActionDelete, nil, err, start)
	if err != nil {
		abortStore(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Increment handles POST /v1/docs/:collection/:id/increment.
func (h *DocHandler) Increment(c *gin.Context) {
	start := time.Now()
	var inc docstore.Increment
	if !bindJSON(c, &inc) {
		return
	}
	res, err := h.store.Increment(c.Request.Context(), c.Param("collection"), c.Param("id"), inc)
	h.record(c, audit.ActionIncrement, inc, err, start)
	if err != nil {
		abortStore(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *DocHandler) record(c *gin.Context, action string, req interface{}, err error, start time.Time) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     action,
		Collection: c.Param("collection"),
		DocID:      c.Param("id"),
		Request:    req,
		IP:         c.ClientIP(),
		Duration:   time.Since(start),
	}
	if id := mw.GetAccountID(c); id != 0 {
		entry.AccountID = &id
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

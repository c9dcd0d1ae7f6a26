package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Promptonauts/artdash/pkg/models"
	"github.com/Promptonauts/artdash/pkg/observability"
	"github.com/Promptonauts/artdash/pkg/store"
)

type buildPage struct {
	Count    int64           `json:"count"`
	Next     *string         `json:"next"`
	Previous *string         `json:"previous"`
	Results  []*models.Build `json:"results"`
}

func (s *Server) handleListBuilds(c *gin.Context) {
	q, err := store.ParseBuildQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	page, err := s.deps.Builds.ListBuilds(c.Request.Context(), q)
	if err != nil {
		s.requestLogger(c).Error("list builds failed", observability.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Error while listing builds"})
		return
	}
	if page.Results == nil {
		page.Results = []*models.Build{}
	}

	body := buildPage{Count: page.Count, Results: page.Results}
	if int64(q.Page*q.PageSize) < page.Count {
		next := pageURL(c, q.Page+1)
		body.Next = &next
	}
	if q.Page > 1 {
		prev := pageURL(c, q.Page-1)
		body.Previous = &prev
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleGetBuild(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	b, err := s.deps.Builds.GetBuild(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
	case err != nil:
		s.requestLogger(c).Error("get build failed", "id", id, observability.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Error while reading build"})
	default:
		c.JSON(http.StatusOK, b)
	}
}

// pageURL rebuilds the request URL pointing at another page. Page one drops
// the parameter.
func pageURL(c *gin.Context, page int) string {
	u := url.URL{
		Scheme: "http",
		Host:   c.Request.Host,
		Path:   c.Request.URL.Path,
	}
	if c.Request.TLS != nil {
		u.Scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		u.Scheme = proto
	}

	values := c.Request.URL.Query()
	if page <= 1 {
		values.Del("page")
	} else {
		values.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = values.Encode()
	return u.String()
}

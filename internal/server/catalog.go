package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
)

const defaultTopSellers = 10

// isAdminRoute reports whether the request came through the admin group.
func isAdminRoute(c *gin.Context) bool {
	return strings.HasPrefix(c.FullPath(), "/admin/")
}

func publicBook(resp catalogdomain.Response) catalogdomain.Response {
	resp.AssetPath = ""
	return resp
}

func (s *Server) ListBooks(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"), 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	offset, err := parseOptionalInt(c.Query("offset"), 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	books, err := s.catalogSvc.ListBooks(c.Request.Context(), catalogdomain.ListRequest{
		GenreID: strings.TrimSpace(c.Query("genre_id")),
		Query:   strings.TrimSpace(c.Query("q")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !isAdminRoute(c) {
		for i := range books {
			books[i] = publicBook(books[i])
		}
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (s *Server) GetBook(c *gin.Context) {
	book, err := s.catalogSvc.GetBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !isAdminRoute(c) {
		resp := publicBook(*book)
		book = &resp
	}
	c.JSON(http.StatusOK, book)
}

type rateBookRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) RateBook(c *gin.Context) {
	var req rateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	book, err := s.catalogSvc.RateBook(c.Request.Context(), c.Param("id"), req.Rating)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, publicBook(*book))
}

func (s *Server) TopSellers(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"), defaultTopSellers)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	items, err := s.catalogSvc.TopSellers(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": items})
}

func (s *Server) CreateBook(c *gin.Context) {
	var req catalogdomain.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	book, err := s.catalogSvc.CreateBook(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionBookCreated, "book", book.ID, map[string]any{"title": book.Title, "slug": book.Slug})
	c.JSON(http.StatusCreated, book)
}

func (s *Server) UpdateBook(c *gin.Context) {
	var req catalogdomain.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	book, err := s.catalogSvc.UpdateBook(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionBookUpdated, "book", book.ID, map[string]any{"title": book.Title, "price_base": book.PriceBase})
	c.JSON(http.StatusOK, book)
}

func (s *Server) DeleteBook(c *gin.Context) {
	if err := s.catalogSvc.DeleteBook(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionBookDeleted, "book", c.Param("id"), nil)
	c.Status(http.StatusNoContent)
}

func (s *Server) ListGenres(c *gin.Context) {
	genres, err := s.catalogSvc.ListGenres(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"genres": genres})
}

func (s *Server) CreateGenre(c *gin.Context) {
	var req catalogdomain.GenreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	genre, err := s.catalogSvc.CreateGenre(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionGenreCreated, "genre", genre.ID.String(), map[string]any{"name": genre.Name})
	c.JSON(http.StatusCreated, genre)
}

func (s *Server) DeleteGenre(c *gin.Context) {
	if err := s.catalogSvc.DeleteGenre(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionGenreDeleted, "genre", c.Param("id"), nil)
	c.Status(http.StatusNoContent)
}

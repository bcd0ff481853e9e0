package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenthands/annals/internal/core"
	"github.com/agenthands/annals/internal/logger"
	"github.com/agenthands/annals/internal/store"
)

// Server exposes a read-only view of the graph.
type Server struct {
	Builder *core.Builder
}

func NewServer(b *core.Builder) *Server {
	return &Server{Builder: b}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Health)
	r.GET("/stats", s.Stats)
	r.GET("/persons", s.FindPersons)
	r.GET("/persons/:id", s.GetPerson)
	r.GET("/persons/:id/relations", s.PersonRelations)
	r.POST("/search", s.Search)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Stats(c *gin.Context) {
	st, err := s.Builder.Stats(c.Request.Context())
	if err != nil {
		logger.Error("failed to read stats", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read stats"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) FindPersons(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	persons, err := s.Builder.FindPersons(c.Request.Context(), name)
	if err != nil {
		logger.Error("failed to find persons", "name", name, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to find persons"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"persons": persons})
}

func (s *Server) GetPerson(c *gin.Context) {
	p, err := s.Builder.Repo.GetPerson(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.Error("failed to load person", "id", c.Param("id"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load person"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) PersonRelations(c *gin.Context) {
	rels, err := s.Builder.PersonRelations(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.Error("failed to load relations", "id", c.Param("id"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load relations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"relations": rels})
}

type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

type SearchHit struct {
	ID    string      `json:"id"`
	Kind  store.Label `json:"kind"`
	Name  string      `json:"name"`
	Score float64     `json:"score"`
}

func (s *Server) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	hits, err := s.Builder.Search(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		logger.Error("failed to search", "query", req.Query, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search"})
		return
	}

	results := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchHit{ID: h.ID, Kind: h.Label, Name: h.Props.String("name"), Score: h.Score})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

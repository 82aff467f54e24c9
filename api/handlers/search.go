package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terkoizmy/jobdex/db/searchdb"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/services/search"
	"github.com/terkoizmy/jobdex/validation"
)

const defaultResultsLimit = 10

type SearchRequest struct {
	Query     string `form:"q" validate:"valid_query,max=1000"`
	Limit     int    `form:"limit" validate:"min=0,max=100"`
	MinSalary int64  `form:"min_salary" validate:"min=0"`
}

func (r *SearchRequest) setDefaults() {
	if r.Limit == 0 {
		r.Limit = defaultResultsLimit
	}
}

// SearchResponse is written as-is, without the data/errors envelope. Clients
// depend on this exact shape.
type SearchResponse struct {
	Query        string            `json:"query"`
	TotalResults int               `json:"total_results"`
	Results      []searchdb.Result `json:"results"`
}

func SetupSearch(router *gin.Engine, logger logger.Logger, service *search.Service, validator *validation.Validator) {
	router.GET("/search", handleSearch(service, logger, validator))

}

func handleSearch(service *search.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := SearchRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request query parameters"})
			return
		}
		request.setDefaults()

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		results, err := service.Search(request.Query, request.Limit, request.MinSalary)
		if err != nil {
			logger.Error("search failed", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		searchResponse := SearchResponse{
			Query:        request.Query,
			TotalResults: len(results.Results),
			Results:      results.Results,
		}

		c.JSON(http.StatusOK, searchResponse)
	}
}

package types

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// PaginationRequest represents limit/offset paging parameters in requests.
// Zero values take the endpoint defaults.
type PaginationRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=0,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// ParseID reads a positive int64 path parameter. It aborts the request and
// returns false when the parameter is malformed.
func ParseID(c *gin.Context, param, resource string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		AbortWithError(c, ValidationError("invalid "+resource+" ID"))
		return 0, false
	}
	return id, true
}

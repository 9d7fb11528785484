package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	searchdomain "github.com/smallbiznis/orderlens/internal/search/domain"
)

func (s *Server) searchRequestFromQuery(c *gin.Context) (searchdomain.Request, error) {
	var req searchdomain.Request

	start, err := parseOptionalTime(c.Query("start_date"), false)
	if err != nil {
		return req, newValidationError("start_date", "invalid_time", "start_date must be RFC3339 or YYYY-MM-DD")
	}
	end, err := parseOptionalTime(c.Query("end_date"), true)
	if err != nil {
		return req, newValidationError("end_date", "invalid_time", "end_date must be RFC3339 or YYYY-MM-DD")
	}
	minAmount, err := parseOptionalDecimal(c.Query("min_amount"))
	if err != nil {
		return req, newValidationError("min_amount", "invalid_decimal", "min_amount must be a decimal")
	}
	maxAmount, err := parseOptionalDecimal(c.Query("max_amount"))
	if err != nil {
		return req, newValidationError("max_amount", "invalid_decimal", "max_amount must be a decimal")
	}
	productIDs, err := parseCSVInt64List(c.Query("product_ids"))
	if err != nil {
		return req, newValidationError("product_ids", "invalid_id_list", "product_ids must be comma-separated integers")
	}
	limit := 0
	if parsed, err := parseOptionalInt(c.Query("limit")); err != nil {
		return req, newValidationError("limit", "invalid_int", "limit must be an integer")
	} else if parsed != nil {
		limit = *parsed
	}

	req = searchdomain.Request{
		Filters: searchdomain.Filters{
			StartDate:      start,
			EndDate:        end,
			Statuses:       parseCSVList(c.Query("status")),
			MinAmount:      minAmount,
			MaxAmount:      maxAmount,
			ProductIDs:     productIDs,
			CustomerSearch: c.Query("customer_search"),
		},
		Cursor: c.Query("cursor"),
		Limit:  limit,
		Fields: parseCSVList(c.Query("fields")),
	}
	return req, nil
}

func (s *Server) SearchOrders(c *gin.Context) {
	req, err := s.searchRequestFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if stream, _ := strconv.ParseBool(c.DefaultQuery("stream", "false")); stream {
		s.streamSearchJSON(c, req)
		return
	}

	result, err := s.searchSvc.Search(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// streamSearchJSON writes one chunked JSON document: a data array built
// row by row, then a trailing pagination object. The body stays valid
// JSON even though it is produced incrementally.
func (s *Server) streamSearchJSON(c *gin.Context, req searchdomain.Request) {
	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(noNewline{c.Writer})
	wrote := false

	if _, err := c.Writer.WriteString(`{"data":[`); err != nil {
		return
	}

	summary, err := s.searchSvc.Stream(c.Request.Context(), req, func(row searchdomain.Row) error {
		if wrote {
			if _, err := c.Writer.WriteString(","); err != nil {
				return err
			}
		}
		wrote = true
		if err := enc.Encode(row); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		// Headers are gone; the truncated body signals the failure.
		return
	}

	pagination := searchdomain.Pagination{
		NextCursor: summary.NextCursor,
		Limit:      req.Limit,
		Count:      summary.Rows,
	}
	tail, err := json.Marshal(pagination)
	if err != nil {
		return
	}
	if _, err := c.Writer.WriteString(`],"pagination":` + string(tail) + `}`); err != nil {
		return
	}
	c.Writer.Flush()
}

// SearchOrdersNDJSON emits one row per line plus a final summary line.
func (s *Server) SearchOrdersNDJSON(c *gin.Context) {
	req, err := s.searchRequestFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	summary, err := s.searchSvc.Stream(c.Request.Context(), req, func(row searchdomain.Row) error {
		if err := enc.Encode(row); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		return
	}

	_ = enc.Encode(gin.H{"summary": gin.H{
		"rows":        summary.Rows,
		"next_cursor": summary.NextCursor,
	}})
	c.Writer.Flush()
}

// noNewline drops the trailing newline json.Encoder appends, keeping
// streamed arrays compact.
type noNewline struct {
	w gin.ResponseWriter
}

func (n noNewline) Write(p []byte) (int, error) {
	if len(p) > 0 && p[len(p)-1] == '\n' {
		written, err := n.w.Write(p[:len(p)-1])
		if err != nil {
			return written, err
		}
		return len(p), nil
	}
	return n.w.Write(p)
}

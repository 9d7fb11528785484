package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	exportdomain "github.com/smallbiznis/orderlens/internal/export/domain"
)

const downloadChunkSize = 8 * 1024

type createExportRequest struct {
	Format  string               `json:"format"`
	Filters exportdomain.Filters `json:"filters"`
}

func (s *Server) CreateExport(c *gin.Context) {
	var req createExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	format, err := exportdomain.ParseFormat(req.Format)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.exportSvc.CreateJob(c.Request.Context(), exportdomain.CreateRequest{
		Format:  format,
		Filters: req.Filters,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// StreamExport runs the job, streaming rows to the client while the
// spool file fills for later ranged downloads.
func (s *Server) StreamExport(c *gin.Context) {
	jobID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "job id must be a positive integer"))
		return
	}

	job, err := s.exportSvc.Status(c.Request.Context(), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	switch job.Status {
	case exportdomain.JobStatusFailed:
		AbortWithError(c, exportdomain.ErrJobFailed)
		return
	case exportdomain.JobStatusPending:
	default:
		AbortWithError(c, exportdomain.ErrJobNotReady)
		return
	}

	format := exportdomain.Format(job.Format)
	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=export_%s.%s", job.JobID, format.Extension()))
	c.Status(http.StatusOK)

	if err := s.exportSvc.Run(c.Request.Context(), jobID, flushWriter{c.Writer}); err != nil {
		// Output already started; the failed job status carries the error.
		return
	}
}

func (s *Server) ExportStatus(c *gin.Context) {
	jobID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "job id must be a positive integer"))
		return
	}

	job, err := s.exportSvc.Status(c.Request.Context(), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// DownloadExport serves the completed spool file. A valid Range header
// gets the exact byte span with 206 + Content-Range; anything else gets
// the full file in fixed-size chunks.
func (s *Server) DownloadExport(c *gin.Context) {
	jobID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "job id must be a positive integer"))
		return
	}

	file, job, err := s.exportSvc.Open(c.Request.Context(), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.Close()

	format := exportdomain.Format(job.Format)
	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=export_%s.%s", job.JobID, format.Extension()))
	c.Header("Accept-Ranges", "bytes")

	total := job.FileSize
	start, end, ok := parseByteRange(c.GetHeader("Range"), total)
	if ok {
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
		c.Header("Content-Length", strconv.FormatInt(end-start+1, 10))
		c.Status(http.StatusPartialContent)
		copyChunks(c, io.LimitReader(file, end-start+1))
		return
	}

	c.Header("Content-Length", strconv.FormatInt(total, 10))
	c.Status(http.StatusOK)
	copyChunks(c, file)
}

func copyChunks(c *gin.Context, r io.Reader) {
	buf := make([]byte, downloadChunkSize)
	for {
		select {
		case <-c.Request.Context().Done():
			return
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			return
		}
	}
}

// parseByteRange understands single "bytes=start-end" spans. Suffix and
// open-ended forms fall back to a full download.
func parseByteRange(header string, total int64) (int64, int64, bool) {
	header = strings.TrimSpace(header)
	if header == "" || total <= 0 || !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false
	}
	span := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(span, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(span, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= total {
		return 0, 0, false
	}
	end := total - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= total {
			end = total - 1
		}
	}
	return start, end, true
}

// flushWriter flushes after every write so streamed exports reach the
// client per batch instead of buffering server-side.
type flushWriter struct {
	w gin.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}

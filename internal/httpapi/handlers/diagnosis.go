package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/smart-doctor/internal/common"
	"github.com/suPer8Hu/smart-doctor/internal/diagnosis"
)

const maxUploadBytes = 10 << 20

// Diagnose proxies an uploaded image to the organ's inference endpoint.
func (h *Handler) Diagnose(c *gin.Context) {
	organ, err := diagnosis.ParseOrgan(c.Param("organ"))
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40403, "unknown organ")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "file required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "file unreadable")
		return
	}
	defer f.Close()

	res, err := h.Diagnosis.Predict(c.Request.Context(), organ, fh.Filename, f)
	if err != nil {
		var ue *diagnosis.UpstreamError
		if errors.As(err, &ue) {
			common.Fail(c, http.StatusBadGateway, 50201, ue.Detail)
			return
		}
		log.Printf("[Diagnose] organ=%s err=%v", organ, err)
		common.Fail(c, http.StatusBadGateway, 50202, "Upload failed")
		return
	}
	common.OK(c, res)
}

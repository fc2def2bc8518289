package controller

import (
	"net/http"
	"strings"
	"time"

	"codelab/internal/judge/repository"
	"codelab/internal/judge/service"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"
	"codelab/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamWriteTimeout = 5 * time.Second

// RunController handles run, compare and webhook endpoints.
type RunController struct {
	runs     *service.RunService
	compares *service.CompareService
	upgrader websocket.Upgrader
}

// NewRunController creates a new RunController.
func NewRunController(runs *service.RunService, compares *service.CompareService) *RunController {
	return &RunController{
		runs:     runs,
		compares: compares,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RunRequest is the payload of POST /api/v1/runs.
type RunRequest struct {
	Source           string  `json:"source"`
	Stdin            string  `json:"stdin"`
	TimeLimitSeconds float64 `json:"time_limit_seconds"`
	Async            bool    `json:"async"`
}

// SubmitResponse is returned for queued runs.
type SubmitResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// CompareRequest holds either inline outputs or stored object keys.
type CompareRequest struct {
	Expected    *string `json:"expected"`
	Actual      *string `json:"actual"`
	ExpectedKey string  `json:"expected_key"`
	ActualKey   string  `json:"actual_key"`
}

// WebhookRequest is the payload of POST /webhook/output.
type WebhookRequest struct {
	RunID   string `json:"runId" binding:"required"`
	Output  string `json:"output"`
	Verdict string `json:"verdict" binding:"required"`
}

// CreateRun runs a program synchronously, or queues it when async is set.
func (h *RunController) CreateRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	in := service.RunInput{
		Source:           req.Source,
		Stdin:            req.Stdin,
		TimeLimitSeconds: req.TimeLimitSeconds,
	}
	if req.Async {
		runID, err := h.runs.Submit(c.Request.Context(), in)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.SuccessWithStatus(c, http.StatusAccepted, SubmitResponse{
			RunID:  runID,
			Status: string(repository.RunPending),
		})
		return
	}
	res, err := h.runs.Run(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetRun returns the stored record of one run.
func (h *RunController) GetRun(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("id"))
	if runID == "" {
		response.BadRequest(c, "Invalid run id")
		return
	}
	record, err := h.runs.Result(c.Request.Context(), runID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, record)
}

// StreamRun upgrades to a websocket, pushes the finished record once and closes.
func (h *RunController) StreamRun(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()
	records, cancel, err := h.runs.Subscribe(ctx, runID)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Detect the peer going away while the run is still pending.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	select {
	case record, ok := <-records:
		if !ok {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(record); err != nil {
			logger.Warn(ctx, "websocket write failed", zap.Error(err))
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
			time.Now().Add(streamWriteTimeout))
	case <-gone:
	case <-ctx.Done():
	}
}

// Compare compares inline outputs or two stored objects.
func (h *RunController) Compare(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	switch {
	case req.Expected != nil && req.Actual != nil:
		response.Success(c, h.compares.CompareText(c.Request.Context(), *req.Expected, *req.Actual))
	case req.ExpectedKey != "" || req.ActualKey != "":
		res, err := h.compares.CompareObjects(c.Request.Context(), req.ExpectedKey, req.ActualKey)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, res)
	default:
		response.Error(c, appErr.ValidationError("expected", "provide expected and actual, or expected_key and actual_key"))
	}
}

// Webhook stores a result produced elsewhere under its run id.
func (h *RunController) Webhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	record, err := h.runs.Record(c.Request.Context(), service.WebhookInput{
		RunID:   req.RunID,
		Output:  req.Output,
		Verdict: req.Verdict,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, record)
}

// Package api serves predictions from a loaded model over HTTP.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/titanml/titan/internal/infer"
	"github.com/titanml/titan/pkg/titan"
)

// Server exposes one immutable model. The engine is safe for
// concurrent use, so no locking is needed around Predict.
type Server struct {
	engine    *infer.Engine
	modelName string
	clock     func() time.Time
}

func NewServer(engine *infer.Engine, modelName string) *Server {
	return &Server{
		engine:    engine,
		modelName: modelName,
		clock:     time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/predict", s.handlePredict)
}

// PredictRequest is the body of POST /v1/predict.
type PredictRequest struct {
	Input []float32 `json:"input"`
}

// PredictResponse echoes the prediction with a unique id and timing.
type PredictResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Output    []float32 `json:"output"`
	ElapsedMS float64   `json:"elapsed_ms"`
}

// LayerInfo is one row of the model description.
type LayerInfo struct {
	Index       int    `json:"index"`
	Type        string `json:"type"`
	InFeatures  uint32 `json:"in_features,omitempty"`
	OutFeatures uint32 `json:"out_features,omitempty"`
	HasBias     bool   `json:"has_bias,omitempty"`
}

// ModelResponse is the body of GET /v1/model.
type ModelResponse struct {
	Model         string      `json:"model"`
	FormatVersion uint32      `json:"format_version"`
	InputSize     int         `json:"input_size"`
	Layers        []LayerInfo `json:"layers"`
	Parameters    int64       `json:"parameters"`
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	model := s.engine.Model()
	layers := make([]LayerInfo, len(model))
	for i, layer := range model {
		info := LayerInfo{Index: i, Type: layer.Type().String()}
		if d, ok := layer.(*titan.Dense); ok {
			info.InFeatures = d.InFeatures
			info.OutFeatures = d.OutFeatures
			info.HasBias = d.HasBias
		}
		layers[i] = info
	}
	return c.JSON(http.StatusOK, ModelResponse{
		Model:         s.modelName,
		FormatVersion: titan.FormatVersion,
		InputSize:     s.engine.InputSize(),
		Layers:        layers,
		Parameters:    model.ParameterCount(),
	})
}

func (s *Server) handlePredict(c *echo.Context) error {
	req, err := decodeJSON[PredictRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Input == nil {
		return writeBadRequest(c, "missing input vector")
	}

	start := s.clock()
	out, err := s.engine.Predict(req.Input)
	if err != nil {
		if errors.Is(err, infer.ErrShapeMismatch) || errors.Is(err, infer.ErrNaNInput) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	return c.JSON(http.StatusOK, PredictResponse{
		ID:        "pred_" + uuid.NewString(),
		Model:     s.modelName,
		Output:    out,
		ElapsedMS: float64(s.clock().Sub(start)) / float64(time.Millisecond),
	})
}

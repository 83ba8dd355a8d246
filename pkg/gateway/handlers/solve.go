package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/chart"
	"github.com/vango-go/scholar-lite/pkg/core/markdown"
	"github.com/vango-go/scholar-lite/pkg/core/solve"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
)

type Solver interface {
	Solve(ctx context.Context, req solve.Request) (solve.Result, error)
}

// SolveHandler serves POST /v1/solve.
type SolveHandler struct {
	Config config.Config
	Solver Solver
	Logger *slog.Logger
}

type solveImage struct {
	MIMEType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}

type solveRequest struct {
	Prompt   string      `json:"prompt"`
	Image    *solveImage `json:"image,omitempty"`
	Thinking bool        `json:"thinking"`
}

type solveResponse struct {
	Solution     string           `json:"solution"`
	Explanation  string           `json:"explanation"`
	ChartData    *solve.ChartData `json:"chart_data,omitempty"`
	SolutionHTML string           `json:"solution_html"`
	ChartSVG     string           `json:"chart_svg,omitempty"`
}

func (h SolveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var body solveRequest
	if err := decodeJSONBody(w, r, h.Config.MaxBodyBytes, &body); err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	req, err := body.toCore(h.Config.MaxImageBytes)
	if err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}

	ctx, cancel := withHandlerTimeout(r.Context(), h.Config.HandlerTimeout)
	defer cancel()

	model, _ := h.Config.Profile.SolveModels().Options(req.Thinking)
	res, err := h.Solver.Solve(ctx, req)
	if err != nil {
		writeErr(w, r, h.Logger, genericProviderError(r, h.Logger, err, core.MsgSolveFailed))
		return
	}

	w.Header().Set("X-Model", model)
	writeJSON(w, http.StatusOK, renderSolve(res, h.Logger))
}

func (b solveRequest) toCore(maxImageBytes int64) (solve.Request, error) {
	req := solve.Request{Prompt: b.Prompt, Thinking: b.Thinking}
	if b.Image == nil || strings.TrimSpace(b.Image.DataB64) == "" {
		return req, nil
	}
	// Base64 expands by 4/3; reject before decoding when it cannot fit.
	if maxImageBytes > 0 && int64(len(b.Image.DataB64))/4*3 > maxImageBytes+2 {
		return req, imageTooLarge()
	}
	data, err := audio.DecodeBase64(b.Image.DataB64)
	if err != nil {
		return req, core.NewInvalidRequestErrorWithParam("image.data_b64 must be valid base64", "image.data_b64")
	}
	if maxImageBytes > 0 && int64(len(data)) > maxImageBytes {
		return req, imageTooLarge()
	}
	mime := strings.TrimSpace(b.Image.MIMEType)
	if mime != "" && !strings.HasPrefix(mime, "image/") {
		return req, core.NewInvalidRequestErrorWithParam("image.mime_type must be an image type", "image.mime_type")
	}
	req.Image = &solve.Image{MIMEType: mime, Data: data}
	return req, nil
}

func imageTooLarge() *core.Error {
	return &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: "image exceeds the maximum size",
		Param:   "image.data_b64",
		Code:    "image_too_large",
	}
}

// renderSolve adds the HTML and SVG renderings. A rendering failure drops
// that field only.
func renderSolve(res solve.Result, logger *slog.Logger) solveResponse {
	out := solveResponse{
		Solution:    res.Solution,
		Explanation: res.Explanation,
		ChartData:   res.Chart,
	}
	html, err := markdown.ToHTML(res.Solution)
	if err != nil && logger != nil {
		logger.Warn("render solution markdown", "error", err)
	}
	out.SolutionHTML = html
	if res.Chart != nil {
		svg, err := chart.SVG(*res.Chart, chart.DefaultWidth, chart.DefaultHeight)
		if err != nil {
			if logger != nil {
				logger.Warn("render chart", "error", err)
			}
		} else {
			out.ChartSVG = svg
		}
	}
	return out
}

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/core/audio"
	"github.com/vango-go/scholar-lite/pkg/core/speech"
	"github.com/vango-go/scholar-lite/pkg/gateway/config"
)

// SpeechHandler serves POST /v1/speech. Synth is normally a *speech.Cache;
// when it can report hits the X-Speech-Cache header is set.
type SpeechHandler struct {
	Config config.Config
	Synth  speech.Synthesizer
	Logger *slog.Logger
}

type speechRequest struct {
	Text string `json:"text"`
}

type speechResponse struct {
	AudioB64     string `json:"audio_b64"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
	Encoding     string `json:"encoding"`
}

type cacheProber interface {
	Has(text string) bool
}

func (h SpeechHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format != "" && format != "json" && format != "wav" {
		writeErr(w, r, h.Logger, core.NewInvalidRequestErrorWithParam("format must be json or wav", "format"))
		return
	}

	var body speechRequest
	if err := decodeJSONBody(w, r, h.Config.MaxBodyBytes, &body); err != nil {
		writeErr(w, r, h.Logger, err)
		return
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		writeErr(w, r, h.Logger, core.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}
	if h.Config.MaxSpeechTextBytes > 0 && len(text) > h.Config.MaxSpeechTextBytes {
		writeErr(w, r, h.Logger, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "text exceeds the maximum length",
			Param:   "text",
			Code:    "text_too_long",
		})
		return
	}

	if h.Synth == nil {
		writeErr(w, r, h.Logger, core.NewAPIError("speech is not configured"))
		return
	}
	if p, ok := h.Synth.(cacheProber); ok {
		if p.Has(text) {
			w.Header().Set("X-Speech-Cache", "hit")
		} else {
			w.Header().Set("X-Speech-Cache", "miss")
		}
	}

	ctx, cancel := withHandlerTimeout(r.Context(), h.Config.HandlerTimeout)
	defer cancel()

	pcm, err := h.Synth.Synthesize(ctx, text)
	if err == nil && len(pcm) == 0 {
		err = speech.ErrNoAudio
	}
	if err != nil {
		if !errors.Is(err, speech.ErrNoAudio) {
			err = genericProviderError(r, h.Logger, err, core.MsgSpeechFailed)
		}
		writeErr(w, r, h.Logger, err)
		return
	}

	f := audio.OutputFormat
	w.Header().Set("X-Model", h.Config.Profile.SpeechModel)
	w.Header().Set("X-Duration-Ms", strconv.FormatInt(f.Duration(len(pcm)).Milliseconds(), 10))

	if format == "wav" {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(audio.WAV(pcm, f))
		return
	}
	writeJSON(w, http.StatusOK, speechResponse{
		AudioB64:     audio.EncodeBase64(pcm),
		SampleRateHz: f.SampleRateHz,
		Channels:     f.Channels,
		Encoding:     "pcm_s16le",
	})
}

package pricing

import (
	"errors"
	"strings"
)

// ErrInvalidRequestShape is returned when a generation request carries a
// mode/quality combination the product does not offer. Nothing is silently
// defaulted; the caller must fix the request.
var ErrInvalidRequestShape = errors.New("pricing: invalid generation request shape")

// Request modes and qualities accepted by the selector.
const (
	ModeGenerate = "generate"
	ModeEdit     = "edit"
	ModeUpscale  = "upscale"

	QualityStandard = "standard"
	QualityFast     = "fast"
	QualityPremium  = "premium"
)

// GenerationRequest is the request intent the selector maps to an engine.
type GenerationRequest struct {
	Mode       string
	Quality    string
	UseKontext bool
}

// SelectEngine maps a generation request to exactly one engine id.
// The rule order encodes product intent: upscales and edits override the
// quality field, plain generations are chosen by quality.
func SelectEngine(req GenerationRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case ModeUpscale:
		return EngineUpscale, nil
	case ModeEdit:
		if req.UseKontext {
			return EngineKontext, nil
		}
		return EngineEdit, nil
	case ModeGenerate:
		switch strings.ToLower(strings.TrimSpace(req.Quality)) {
		case QualityStandard:
			return EngineStandard, nil
		case QualityFast:
			return EngineFast, nil
		case QualityPremium:
			return EnginePremium, nil
		}
	}
	return "", ErrInvalidRequestShape
}

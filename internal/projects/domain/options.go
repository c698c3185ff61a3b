package domain

// Orthophoto quality presets.
const (
	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// ProcessingOptions are the per-project knobs accepted when dispatch
// is requested. Zero value means medium quality, no terrain model,
// no multispectral handling.
type ProcessingOptions struct {
	OrthoQuality  string `json:"ortho_quality,omitempty"`
	GenerateDTM   bool   `json:"generate_dtm,omitempty"`
	Multispectral bool   `json:"multispectral,omitempty"`
}

// Normalize fills defaults and maps unknown quality values to medium.
func (o ProcessingOptions) Normalize() ProcessingOptions {
	switch o.OrthoQuality {
	case QualityLow, QualityMedium, QualityHigh:
	default:
		o.OrthoQuality = QualityMedium
	}
	return o
}

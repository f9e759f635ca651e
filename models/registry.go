// Package models - loading and construction of detection models.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/models/dfine"
	"github.com/nvr-ai/go-detect/models/fasterrcnn"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/yolo"
)

// NewModel creates the decoder for config.Family.
//
// Arguments:
//   - config: The decoding configuration.
//
// Returns:
//   - model.Model: The family decoder.
//   - error: If the family is unsupported or the configuration is invalid.
//
// Example:
//
// ```go
//
//	m, err := NewModel(model.Config{
//	    Family:   model.FamilyYOLOv8,
//	    Width:    640,
//	    Height:   640,
//	    MinScore: 0.05,
//	    NMS:      postprocess.DefaultNMSConfig(),
//	})
//
// ```
func NewModel(config model.Config) (model.Model, error) {
	var (
		m   model.Model
		err error
	)
	switch config.Family {
	case model.FamilyFasterRCNN:
		m, err = fasterrcnn.NewModel(config)
	case model.FamilyYOLOv8, model.FamilyYOLOv5:
		m, err = yolo.NewModel(config)
	case model.FamilyDFINE:
		m, err = dfine.NewModel(config)
	default:
		return nil, errors.Errorf("unsupported model family: %q", config.Family)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

package main

import (
	"path/filepath"
	"strings"

	"github.com/binzume/xmodelconv/config"
	"github.com/binzume/xmodelconv/converter"
	"github.com/binzume/xmodelconv/gltfutil"
	"github.com/binzume/xmodelconv/xmodel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const xmodelExt = ".xmodel_export"

func isXModel(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == xmodelExt
}

func defaultOutputFile(input string, cfg *config.Config) string {
	ext := filepath.Ext(input)
	base := input[0 : len(input)-len(ext)]
	if isXModel(input) {
		if cfg.GLTF.Binary {
			return base + ".glb"
		}
		return base + ".gltf"
	}
	return base + xmodelExt
}

// loadScene reads input as writer input for an xmodel_export output.
func loadScene(input string, cfg *config.Config, log *zap.Logger) (*xmodel.Scene, error) {
	if isXModel(input) {
		model, err := xmodel.Load(input, log)
		if err != nil {
			return nil, err
		}
		return xmodel.NewSceneFromModel(model), nil
	}
	if gltfutil.IsGLTF(input) {
		doc, err := gltfutil.Load(input)
		if err != nil {
			return nil, err
		}
		conv := converter.NewGLTFToXModelConverter(&converter.GLTFToXModelOption{Scale: cfg.Scale, Logger: log})
		return conv.Convert(doc)
	}
	return nil, errors.Errorf("unsupported input type: %v", filepath.Ext(input))
}

func convert(input, output string, cfg *config.Config, log *zap.Logger) error {
	if isXModel(output) {
		scene, err := loadScene(input, cfg, log)
		if err != nil {
			return err
		}
		w := xmodel.NewWriter()
		w.Logger = log
		w.MaterialPrefix = cfg.XModel.DefaultMaterial
		return w.Save(scene, output)
	}

	if gltfutil.IsGLTF(output) {
		if !isXModel(input) {
			return errors.Errorf("unsupported conversion: %v -> %v", filepath.Ext(input), filepath.Ext(output))
		}
		conv := converter.NewXModelToGLTFConverter(&converter.XModelToGLTFOption{
			Scale:         cfg.Scale,
			MaxInfluences: cfg.GLTF.MaxInfluences,
			Logger:        log,
		})
		if err := xmodel.Import(input, conv, log); err != nil {
			return err
		}
		log.Debug("gltf", zap.Int("buffer", gltfutil.BufferSize(conv.Document)))
		return gltfutil.Save(conv.Document, output)
	}
	return errors.Errorf("unsupported output type: %v", filepath.Ext(output))
}

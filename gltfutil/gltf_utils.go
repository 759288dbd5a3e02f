package gltfutil

import (
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
)

func Load(path string) (*gltf.Document, error) {
	return gltf.Open(path)
}

// IsGLTF reports whether path has a .gltf or .glb extension.
func IsGLTF(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".gltf" || ext == ".glb"
}

// Save writes .glb or .gltf according to the extension of path.
func Save(doc *gltf.Document, path string) error {
	if strings.ToLower(filepath.Ext(path)) == ".gltf" {
		for _, b := range doc.Buffers {
			if b.URI == "" && len(b.Data) > 0 {
				b.EmbeddedResource()
			}
		}
		return gltf.Save(doc, path)
	}
	return gltf.SaveBinary(doc, path)
}

// BufferSize returns the total size of the in-memory buffers.
func BufferSize(doc *gltf.Document) int {
	n := 0
	for _, b := range doc.Buffers {
		n += len(b.Data)
	}
	return n
}

// Package evaluate inspects finished model artifacts and produces a
// deterministic quality scorecard.
package evaluate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"

	"forge3d/internal/domain"
)

const (
	errorPenalty   = 15
	warningPenalty = 5
)

// Evaluator scores glTF artifacts. The same file always yields the same
// scorecard.
type Evaluator struct{}

func New() *Evaluator { return &Evaluator{} }

// Evaluate opens the artifact at path and returns its scorecard. An error is
// returned only when the file cannot be read or parsed; structural defects in
// a parseable document are reported through the scorecard counters instead.
func (e *Evaluator) Evaluate(path string) (*domain.Scorecard, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("evaluate: stat artifact: %w", err)
	}

	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("evaluate: parse artifact: %w", err)
	}

	card := &domain.Scorecard{
		Meshes:     len(doc.Meshes),
		Materials:  len(doc.Materials),
		Images:     len(doc.Images),
		Animations: len(doc.Animations),
		Format:     formatFor(path),
		SizeBytes:  info.Size(),
	}

	inspectGeometry(doc, card)
	inspectBuffers(doc, card)

	if len(doc.Scenes) == 0 {
		card.Warnings++
	}
	if card.Meshes > 0 && card.Materials == 0 {
		card.Warnings++
	}

	card.Score = score(card.Errors, card.Warnings)
	return card, nil
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".glb":
		return "glb"
	case ".gltf":
		return "gltf"
	default:
		return "unknown"
	}
}

func score(errors, warnings int) int {
	s := 100 - errorPenalty*errors - warningPenalty*warnings
	if s < 0 {
		return 0
	}
	return s
}

func inspectGeometry(doc *gltf.Document, card *domain.Scorecard) {
	usedMaterials := make(map[int]bool)
	primitives := 0

	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			primitives++

			if prim.Material != nil {
				usedMaterials[*prim.Material] = true
			}
			if prim.Mode != gltf.PrimitiveTriangles {
				card.Infos++
			}

			posIdx, ok := prim.Attributes["POSITION"]
			if !ok {
				card.Errors++
				continue
			}
			pos := accessorAt(doc, posIdx)
			if pos == nil {
				card.Errors++
				continue
			}
			if pos.Count == 0 {
				card.Errors++
			}
			card.Vertices += pos.Count

			if _, ok := prim.Attributes["NORMAL"]; !ok {
				card.Warnings++
			}

			corners := pos.Count
			if prim.Indices != nil {
				idx := accessorAt(doc, *prim.Indices)
				if idx == nil {
					card.Errors++
					continue
				}
				corners = idx.Count
			}
			if prim.Mode == gltf.PrimitiveTriangles {
				card.Triangles += corners / 3
			}
		}
	}

	if primitives == 0 {
		card.Errors++
	}
	for i := range doc.Materials {
		if !usedMaterials[i] {
			card.Infos++
		}
	}
}

func accessorAt(doc *gltf.Document, idx int) *gltf.Accessor {
	if idx < 0 || idx >= len(doc.Accessors) {
		return nil
	}
	return doc.Accessors[idx]
}

func inspectBuffers(doc *gltf.Document, card *domain.Scorecard) {
	for _, buf := range doc.Buffers {
		if buf.ByteLength > 0 && len(buf.Data) == 0 && buf.URI == "" {
			card.Errors++
		}
	}
}

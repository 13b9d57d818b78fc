// Package synthetic implements the generation backend without any external
// service. Tasks progress through staged status checks and complete with a
// small procedurally built GLB, so the whole pipeline can run in local and CI
// environments. Identical inputs always produce identical bytes.
package synthetic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/rs/zerolog"

	"forge3d/internal/domain"
	"forge3d/internal/infra"
	"forge3d/internal/storage"
)

const artifactScheme = "synthetic://"

// Options controls the synthetic provider.
type Options struct {
	Logger *infra.Logger
	Store  *storage.FileStore
	// CompleteAfter is the number of status checks before a task reports
	// success. Zero selects the default of two; a negative value keeps tasks
	// in a processing state forever.
	CompleteAfter int
}

// Provider is an in-process Generator.
type Provider struct {
	mu            sync.Mutex
	tasks         map[string]*task
	completeAfter int
	store         *storage.FileStore
	logger        *infra.Logger
}

type task struct {
	prompt string
	seed   string
	checks int
}

var _ domain.Generator = (*Provider)(nil)

func New(opts Options) (*Provider, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("synthetic: artifact store is required")
	}

	completeAfter := opts.CompleteAfter
	if completeAfter == 0 {
		completeAfter = 2
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Provider{
		tasks:         make(map[string]*task),
		completeAfter: completeAfter,
		store:         opts.Store,
		logger:        logger,
	}, nil
}

// SubmitText registers a text task.
func (p *Provider) SubmitText(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.register(prompt, prompt), nil
}

// SubmitImage registers an image task. The image bytes only contribute to the
// shape seed; no pixel data is interpreted.
func (p *Provider) SubmitImage(ctx context.Context, data []byte, mime, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	digest := sha256.Sum256(data)
	return p.register(prompt, prompt+"|"+hex.EncodeToString(digest[:])), nil
}

func (p *Provider) register(prompt, seed string) string {
	id := uuid.NewString()
	p.mu.Lock()
	p.tasks[id] = &task{prompt: prompt, seed: seed}
	p.mu.Unlock()

	p.logger.Debug().
		Str("task_id", id).
		Msg("synthetic: task submitted")

	return id
}

// CheckStatus advances the task through queued, processing and succeeded.
func (p *Provider) CheckStatus(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.TaskStatus{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[taskID]
	if !ok {
		return domain.TaskStatus{}, fmt.Errorf("synthetic: unknown task %q", taskID)
	}
	t.checks++

	if p.completeAfter < 0 {
		return domain.TaskStatus{State: domain.TaskStateProcessing, Progress: 50}, nil
	}
	if t.checks >= p.completeAfter {
		return domain.TaskStatus{
			State:       domain.TaskStateSucceeded,
			ArtifactURL: artifactScheme + taskID,
			Progress:    100,
		}, nil
	}
	if t.checks == 1 {
		return domain.TaskStatus{State: domain.TaskStateQueued, QueuePosition: 1}, nil
	}
	progress := t.checks * 100 / p.completeAfter
	if progress > 99 {
		progress = 99
	}
	return domain.TaskStatus{State: domain.TaskStateProcessing, Progress: progress}, nil
}

// DownloadArtifact renders the model for the completed task and persists it.
func (p *Provider) DownloadArtifact(ctx context.Context, rawURL, jobID string) (domain.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, err
	}
	taskID := strings.TrimPrefix(rawURL, artifactScheme)
	if taskID == rawURL {
		return domain.ArtifactRef{}, fmt.Errorf("synthetic: unexpected artifact url %q", rawURL)
	}

	p.mu.Lock()
	prompt, seed := taskID, taskID
	if t, ok := p.tasks[taskID]; ok {
		prompt, seed = t.prompt, t.seed
		delete(p.tasks, taskID)
	}
	p.mu.Unlock()

	blob, err := renderModel(prompt, seed)
	if err != nil {
		return domain.ArtifactRef{}, err
	}

	key := jobID + ".glb"
	storedKey, err := p.store.Write(ctx, key, blob)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("synthetic: persist artifact: %w", err)
	}
	storedPath, err := p.store.Path(storedKey)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("synthetic: resolve artifact path: %w", err)
	}

	p.logger.Debug().
		Str("job_id", jobID).
		Str("key", key).
		Int("size", len(blob)).
		Msg("synthetic: artifact rendered")

	return domain.ArtifactRef{
		Path:      storedPath,
		URL:       "/files/" + key,
		Format:    "glb",
		SizeBytes: int64(len(blob)),
	}, nil
}

type shape string

const (
	shapeCube     shape = "cube"
	shapePyramid  shape = "pyramid"
	shapeSphere   shape = "sphere"
	shapeCylinder shape = "cylinder"
	shapeFreeform shape = "freeform"
)

func shapeFor(prompt string) shape {
	p := strings.ToLower(prompt)
	switch {
	case strings.Contains(p, "pyramid"):
		return shapePyramid
	case strings.Contains(p, "sphere"), strings.Contains(p, "ball"), strings.Contains(p, "planet"):
		return shapeSphere
	case strings.Contains(p, "cylinder"), strings.Contains(p, "barrel"), strings.Contains(p, "column"):
		return shapeCylinder
	case strings.Contains(p, "cube"), strings.Contains(p, "box"), strings.Contains(p, "crate"):
		return shapeCube
	default:
		return shapeFreeform
	}
}

// renderModel builds a GLB document for the prompt. The seed string controls
// per-model variation (overall scale and freeform jitter) so distinct inputs
// yield visibly distinct models.
func renderModel(prompt, seed string) ([]byte, error) {
	digest := sha256.Sum256([]byte(seed))
	scale := 0.75 + float32(digest[0])/512

	kind := shapeFor(prompt)
	var positions, normals [][3]float32
	var indices []uint16
	withNormals := true

	switch kind {
	case shapePyramid:
		positions, indices = pyramidGeometry(scale)
		// Flat-shaded on purpose: the evaluator flags the missing normals.
		withNormals = false
	case shapeSphere:
		positions, normals, indices = sphereGeometry(scale, 8, 12)
	case shapeCylinder:
		positions, normals, indices = cylinderGeometry(scale, scale*2, 16)
	case shapeCube:
		positions, normals, indices = boxGeometry(scale)
	default:
		positions, normals, indices = boxGeometry(scale)
		jitter(positions, digest)
	}

	doc := gltf.NewDocument()
	attrs := map[string]int{
		"POSITION": modeler.WritePosition(doc, positions),
	}
	if withNormals {
		attrs["NORMAL"] = modeler.WriteNormal(doc, normals)
	}

	doc.Materials = append(doc.Materials, &gltf.Material{Name: string(kind)})
	prim := &gltf.Primitive{
		Attributes: attrs,
		Indices:    gltf.Index(modeler.WriteIndices(doc, indices)),
		Mode:       gltf.PrimitiveTriangles,
		Material:   gltf.Index(len(doc.Materials) - 1),
	}
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: string(kind), Primitives: []*gltf.Primitive{prim}})
	doc.Nodes = append(doc.Nodes, &gltf.Node{Name: string(kind), Mesh: gltf.Index(len(doc.Meshes) - 1)})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, len(doc.Nodes)-1)

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("synthetic: encode model: %w", err)
	}
	return buf.Bytes(), nil
}

func jitter(positions [][3]float32, digest [32]byte) {
	for i := range positions {
		for axis := 0; axis < 3; axis++ {
			b := digest[(i*3+axis)%len(digest)]
			positions[i][axis] += (float32(b)/255 - 0.5) * 0.2
		}
	}
}

func boxGeometry(s float32) ([][3]float32, [][3]float32, []uint16) {
	faces := []struct {
		normal  [3]float32
		corners [4][3]float32
	}{
		{[3]float32{0, 0, 1}, [4][3]float32{{-s, -s, s}, {s, -s, s}, {s, s, s}, {-s, s, s}}},
		{[3]float32{0, 0, -1}, [4][3]float32{{s, -s, -s}, {-s, -s, -s}, {-s, s, -s}, {s, s, -s}}},
		{[3]float32{1, 0, 0}, [4][3]float32{{s, -s, s}, {s, -s, -s}, {s, s, -s}, {s, s, s}}},
		{[3]float32{-1, 0, 0}, [4][3]float32{{-s, -s, -s}, {-s, -s, s}, {-s, s, s}, {-s, s, -s}}},
		{[3]float32{0, 1, 0}, [4][3]float32{{-s, s, s}, {s, s, s}, {s, s, -s}, {-s, s, -s}}},
		{[3]float32{0, -1, 0}, [4][3]float32{{-s, -s, -s}, {s, -s, -s}, {s, -s, s}, {-s, -s, s}}},
	}

	var positions, normals [][3]float32
	var indices []uint16
	for _, face := range faces {
		base := uint16(len(positions))
		for _, corner := range face.corners {
			positions = append(positions, corner)
			normals = append(normals, face.normal)
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return positions, normals, indices
}

func pyramidGeometry(s float32) ([][3]float32, []uint16) {
	positions := [][3]float32{
		{0, s, 0},
		{-s, 0, -s}, {s, 0, -s}, {s, 0, s}, {-s, 0, s},
	}
	indices := []uint16{
		0, 1, 2, 0, 2, 3, 0, 3, 4, 0, 4, 1,
		1, 3, 2, 1, 4, 3,
	}
	return positions, indices
}

func sphereGeometry(r float32, rings, sectors int) ([][3]float32, [][3]float32, []uint16) {
	var positions, normals [][3]float32
	var indices []uint16

	for ring := 0; ring <= rings; ring++ {
		phi := math.Pi * float64(ring) / float64(rings)
		for sector := 0; sector <= sectors; sector++ {
			theta := 2 * math.Pi * float64(sector) / float64(sectors)
			dir := [3]float32{
				float32(math.Sin(phi) * math.Cos(theta)),
				float32(math.Cos(phi)),
				float32(math.Sin(phi) * math.Sin(theta)),
			}
			positions = append(positions, [3]float32{dir[0] * r, dir[1] * r, dir[2] * r})
			normals = append(normals, dir)
		}
	}

	stride := sectors + 1
	for ring := 0; ring < rings; ring++ {
		for sector := 0; sector < sectors; sector++ {
			a := uint16(ring*stride + sector)
			b := a + uint16(stride)
			indices = append(indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return positions, normals, indices
}

func cylinderGeometry(r, h float32, sectors int) ([][3]float32, [][3]float32, []uint16) {
	var positions, normals [][3]float32
	var indices []uint16
	half := h / 2

	// Side wall with smooth outward normals.
	for i := 0; i <= sectors; i++ {
		theta := 2 * math.Pi * float64(i) / float64(sectors)
		x := float32(math.Cos(theta))
		z := float32(math.Sin(theta))
		positions = append(positions, [3]float32{x * r, half, z * r}, [3]float32{x * r, -half, z * r})
		normals = append(normals, [3]float32{x, 0, z}, [3]float32{x, 0, z})
	}
	for i := 0; i < sectors; i++ {
		top := uint16(2 * i)
		bottom := top + 1
		indices = append(indices, top, bottom, top+2, top+2, bottom, bottom+2)
	}

	// Caps as triangle fans around a center vertex.
	for _, lid := range []struct {
		y      float32
		normal [3]float32
	}{
		{half, [3]float32{0, 1, 0}},
		{-half, [3]float32{0, -1, 0}},
	} {
		center := uint16(len(positions))
		positions = append(positions, [3]float32{0, lid.y, 0})
		normals = append(normals, lid.normal)
		for i := 0; i <= sectors; i++ {
			theta := 2 * math.Pi * float64(i) / float64(sectors)
			positions = append(positions, [3]float32{float32(math.Cos(theta)) * r, lid.y, float32(math.Sin(theta)) * r})
			normals = append(normals, lid.normal)
		}
		for i := 0; i < sectors; i++ {
			rim := center + 1 + uint16(i)
			indices = append(indices, center, rim, rim+1)
		}
	}

	return positions, normals, indices
}

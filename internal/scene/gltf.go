package scene

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// MaxAssetBytes bounds remote downloads.
const MaxAssetBytes = 64 << 20

// ErrAssetTooLarge is returned for downloads over MaxAssetBytes.
var ErrAssetTooLarge = errors.New("asset too large")

// Load resolves src as an http(s) URL or a local path and decodes it.
// The fetch honours ctx cancellation.
func Load(ctx context.Context, client *http.Client, src string) (*Asset, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return LoadURL(ctx, client, src)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(src)
}

// LoadFile decodes a .glb or .gltf file from disk.
func LoadFile(path string) (*Asset, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	return FromDocument(doc, path, filepath.Dir(path))
}

// LoadURL downloads and decodes a binary glTF.
func LoadURL(ctx context.Context, client *http.Client, url string) (*Asset, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch asset: status %d", resp.StatusCode)
	}

	if resp.ContentLength > MaxAssetBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrAssetTooLarge, resp.ContentLength, MaxAssetBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	if len(data) > MaxAssetBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrAssetTooLarge, MaxAssetBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data), url)
}

// Decode reads a self-contained glTF or GLB stream.
func Decode(r io.Reader, source string) (*Asset, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode gltf: %w", err)
	}
	return FromDocument(doc, source, "")
}

// FromDocument builds the scene graph for the document's default scene.
// Every node referenced as a skin joint becomes a bone.
func FromDocument(doc *gltf.Document, source, baseDir string) (*Asset, error) {
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("gltf %s: no nodes", source)
	}
	rd := newAccessorReader(doc, baseDir)

	joints := make(map[int]bool)
	for _, skin := range doc.Skins {
		for _, j := range skin.Joints {
			joints[int(j)] = true
		}
	}

	nodes := make([]*Node, len(doc.Nodes))
	for i, gn := range doc.Nodes {
		n, err := buildNode(rd, doc, gn, i, joints[i])
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}

	hasParent := make([]bool, len(nodes))
	for i, gn := range doc.Nodes {
		for _, c := range gn.Children {
			ci := int(c)
			if ci < 0 || ci >= len(nodes) || hasParent[ci] {
				continue
			}
			hasParent[ci] = true
			nodes[i].Add(nodes[ci])
		}
	}

	root := NewNode("Scene", KindGroup)
	var sceneRoots []int
	if len(doc.Scenes) > 0 {
		si := 0
		if doc.Scene != nil {
			si = int(*doc.Scene)
		}
		if si >= 0 && si < len(doc.Scenes) {
			for _, n := range doc.Scenes[si].Nodes {
				sceneRoots = append(sceneRoots, int(n))
			}
		}
	}
	if len(sceneRoots) == 0 {
		for i := range nodes {
			if !hasParent[i] {
				sceneRoots = append(sceneRoots, i)
			}
		}
	}
	for _, i := range sceneRoots {
		if i >= 0 && i < len(nodes) && nodes[i].Parent == nil {
			root.Add(nodes[i])
		}
	}

	clips, err := buildClips(rd, doc, nodes)
	if err != nil {
		return nil, err
	}

	return &Asset{Source: source, Root: root, Clips: clips}, nil
}

func buildNode(rd *accessorReader, doc *gltf.Document, gn *gltf.Node, idx int, joint bool) (*Node, error) {
	name := gn.Name
	if name == "" {
		name = fmt.Sprintf("node_%d", idx)
	}

	kind := KindGroup
	if joint {
		kind = KindBone
	}
	n := NewNode(name, kind)

	n.Position = mgl32.Vec3{float32(gn.Translation[0]), float32(gn.Translation[1]), float32(gn.Translation[2])}
	if s := gn.Scale; s[0] != 0 || s[1] != 0 || s[2] != 0 {
		n.Scale = mgl32.Vec3{float32(s[0]), float32(s[1]), float32(s[2])}
	}
	if q := gn.Rotation; q[0] != 0 || q[1] != 0 || q[2] != 0 || q[3] != 0 {
		n.Rotation = quatToEuler(mgl32.Quat{
			W: float32(q[3]),
			V: mgl32.Vec3{float32(q[0]), float32(q[1]), float32(q[2])},
		})
	}

	if gn.Mesh == nil {
		return n, nil
	}
	mi := int(*gn.Mesh)
	if mi < 0 || mi >= len(doc.Meshes) {
		return nil, fmt.Errorf("node %q: mesh %d out of range", name, mi)
	}
	gm := doc.Meshes[mi]
	// A skinned joint that also carries a mesh stays a bone but keeps its
	// geometry and morph targets.
	if !joint {
		n.Kind = KindMesh
	}

	targets := 0
	for _, prim := range gm.Primitives {
		geo, err := buildGeometry(rd, prim)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", name, err)
		}
		if len(geo.Targets) > targets {
			targets = len(geo.Targets)
		}
		n.Geometry = append(n.Geometry, geo)
	}

	n.MorphNames = make([]string, targets)
	for i := range n.MorphNames {
		n.MorphNames[i] = fmt.Sprintf("target_%d", i)
	}
	for i, s := range targetNames(gm.Extras) {
		if i < len(n.MorphNames) && s != "" {
			n.MorphNames[i] = s
		}
	}
	n.EnsureInfluences()
	for i, w := range gm.Weights {
		n.SetInfluence(i, float32(w))
	}
	return n, nil
}

func buildGeometry(rd *accessorReader, prim *gltf.Primitive) (*Geometry, error) {
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil, fmt.Errorf("primitive without POSITION")
	}
	positions, err := rd.vec3s(int(posIdx))
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	geo := &Geometry{Positions: positions, Color: mgl32.Vec3{0.8, 0.7, 0.65}}

	if normIdx, ok := prim.Attributes[gltf.NORMAL]; ok {
		if normals, err := rd.vec3s(int(normIdx)); err == nil && len(normals) == len(positions) {
			geo.Normals = normals
		}
	}
	if geo.Normals == nil {
		geo.Normals = make([]mgl32.Vec3, len(positions))
	}

	if prim.Indices != nil {
		geo.Indices, err = rd.indices(int(*prim.Indices))
		if err != nil {
			return nil, fmt.Errorf("read indices: %w", err)
		}
	}

	for _, target := range prim.Targets {
		var deltas []mgl32.Vec3
		if ti, ok := target[gltf.POSITION]; ok {
			deltas, _ = rd.vec3s(int(ti))
		}
		geo.Targets = append(geo.Targets, deltas)
	}
	return geo, nil
}

// targetNames reads the morph target names exporters store in mesh extras.
func targetNames(extras any) []string {
	var m map[string]any
	switch x := extras.(type) {
	case map[string]any:
		m = x
	case json.RawMessage:
		if err := json.Unmarshal(x, &m); err != nil {
			return nil
		}
	default:
		return nil
	}

	raw, ok := m["targetNames"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, len(raw))
	for i, v := range raw {
		names[i], _ = v.(string)
	}
	return names
}

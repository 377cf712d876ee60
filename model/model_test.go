package model

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/asset/assettest"
	"github.com/devblok/koruasset/provider/local"
	"github.com/devblok/koruasset/utility/kar"
)

const triangleDae = `<?xml version="1.0" encoding="utf-8"?>
<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
	<library_images>
		<image id="hull-png" name="hull"><init_from>hull.png</init_from></image>
	</library_images>
	<library_geometries>
		<geometry id="Tri-mesh" name="Tri">
			<mesh>
				<source id="Tri-mesh-positions">
					<float_array id="Tri-mesh-positions-array" count="9">0 0 0 1 0 0 0 2 -1</float_array>
				</source>
				<source id="Tri-mesh-normals">
					<float_array id="Tri-mesh-normals-array" count="3">0 0 1</float_array>
				</source>
				<vertices id="Tri-mesh-vertices">
					<input semantic="POSITION" source="#Tri-mesh-positions"/>
				</vertices>
				<triangles material="Hull" count="1">
					<input semantic="VERTEX" source="#Tri-mesh-vertices" offset="0"/>
					<input semantic="NORMAL" source="#Tri-mesh-normals" offset="1"/>
					<p>0 0 1 0 2 0</p>
				</triangles>
			</mesh>
		</geometry>
	</library_geometries>
</COLLADA>`

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMesh(t *testing.T) {
	m := NewMesh("ship.dae").(*Mesh)
	deps, err := m.DeserializeFromBytes([]byte(triangleDae))
	require.NoError(t, err)
	assert.Equal(t, []string{"hull.png"}, deps)
	assert.True(t, m.IsLoaded())

	require.Len(t, m.Vertices(), 3)
	assert.Equal(t, glm.Vec3{1, 0, 0}, m.Vertices()[1].Pos)
	assert.Equal(t, glm.Vec3{0, 0, 1}, m.Vertices()[2].Normal)
	lo, hi := m.Bounds()
	assert.Equal(t, glm.Vec3{0, 0, -1}, lo)
	assert.Equal(t, glm.Vec3{1, 2, 0}, hi)

	m.Unload()
	assert.False(t, m.IsLoaded())
	assert.Empty(t, m.Vertices())
}

func TestMeshErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"not xml":     "mesh",
		"no geometry": `<COLLADA></COLLADA>`,
		"bad index":   strings.Replace(triangleDae, "<p>0 0 1 0 2 0</p>", "<p>0 0 1 0 7 0</p>", 1),
		"no vertex":   strings.Replace(triangleDae, `semantic="VERTEX"`, `semantic="COLOR"`, 1),
	} {
		_, err := NewMesh("x.dae").DeserializeFromBytes([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestTexture(t *testing.T) {
	tex := NewTexture("a.png").(*Texture)
	deps, err := tex.DeserializeFromBytes(pngBytes(t, 4, 2))
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.Equal(t, "png", tex.Format())
	w, h := tex.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)
	px := tex.Pixels()
	require.Len(t, px, 4*2*4)
	assert.Equal(t, []uint8{255, 0, 0, 255}, px[:4])

	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))
	// the format comes from the data, not the name
	_, err = tex.DeserializeFromBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "bmp", tex.Format())
	assert.Len(t, tex.Pixels(), 3*3*4)

	_, err = tex.DeserializeFromBytes([]byte("not an image"))
	assert.Error(t, err)

	tex.Unload()
	w, _ = tex.Size()
	assert.Zero(t, w)
}

func TestMaterial(t *testing.T) {
	m := NewMaterial("hull.material").(*Material)
	deps, err := m.DeserializeFromBytes([]byte(`
shader: lit.js
color: [1, 0.5, 0.25, 1]
textures:
  normal: hull_n.png
  diffuse: hull.png
parameters:
  roughness: 0.7
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"lit.js", "hull.png", "hull_n.png"}, deps, "shader first, textures by slot")
	assert.Equal(t, "hull.png", m.Texture("diffuse"))
	assert.Equal(t, glm.Vec4{1, 0.5, 0.25, 1}, m.Color())
	assert.Equal(t, 0.7, m.Definition().Parameters["roughness"])

	deps, err = m.DeserializeFromBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.Equal(t, glm.Vec4{1, 1, 1, 1}, m.Color())

	_, err = m.DeserializeFromBytes([]byte("shade: lit.js\n"))
	assert.Error(t, err, "unknown fields are rejected")
	_, err = m.DeserializeFromBytes([]byte("color: [1, 1]\n"))
	assert.Error(t, err)
}

func TestSkeleton(t *testing.T) {
	s := NewSkeleton("pilot.skeleton").(*Skeleton)
	deps, err := s.DeserializeFromBytes([]byte(`
mesh: pilot.dae
bones:
  - name: root
    position: [0, 1, 0]
    rotation: [1, 0, 0, 0]
  - name: arm
    parent: root
    position: [2, 0, 0]
    rotation: [0.7071068, 0, 0, 0.7071068]
  - name: hand
    parent: arm
    position: [1, 0, 0]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"pilot.dae"}, deps)
	require.Len(t, s.Bones(), 3)
	assert.Equal(t, 1, s.Bones()[2].Parent)

	pos, ok := s.BindPosition("arm")
	require.True(t, ok)
	assert.True(t, pos.ApproxEqualThreshold(glm.Vec3{2, 1, 0}, 1e-5))

	// arm is turned 90 degrees around z, so the hand ends up above it
	pos, ok = s.BindPosition("hand")
	require.True(t, ok)
	assert.True(t, pos.ApproxEqualThreshold(glm.Vec3{2, 2, 0}, 1e-5), pos)

	_, ok = s.Bone("leg")
	assert.False(t, ok)
}

func TestSkeletonErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"parent after child": "bones:\n  - name: a\n    parent: b\n  - name: b\n",
		"duplicate":          "bones:\n  - name: a\n  - name: a\n",
		"unnamed":            "bones:\n  - parent: a\n",
	} {
		_, err := NewSkeleton("x.skeleton").DeserializeFromBytes([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestScript(t *testing.T) {
	s := NewScript("main.js").(*Script)
	deps, err := s.DeserializeFromBytes([]byte(`// !ref: lib/math.js
  // !ref:   hud.js
// !ref:
var answer = 6 * 7;
answer;
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/math.js", "hud.js"}, deps)

	v, err := s.Run(goja.New())
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.ToInteger())

	_, err = s.DeserializeFromBytes([]byte("var = ;"))
	assert.Error(t, err)

	s.Unload()
	_, err = s.Run(goja.New())
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestScriptLongLine(t *testing.T) {
	src := "// !ref: lib/big.js\nvar data = [" + strings.Repeat("1,", 40000) + "1]; data.length;"
	s := NewScript("min.js").(*Script)
	deps, err := s.DeserializeFromBytes([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/big.js"}, deps)
	assert.True(t, s.IsLoaded())

	v, err := s.Run(goja.New())
	require.NoError(t, err)
	assert.Equal(t, int64(40001), v.ToInteger())
}

func TestScene(t *testing.T) {
	s := NewScene("level.scene").(*Scene)
	deps, err := s.DeserializeFromBytes([]byte(`<scene>
	<entity id="1">
		<component type="Mesh">
			<attribute name="meshRef" value="ship.dae"/>
			<attribute name="materialRefs" value="hull.material; glass.material;"/>
			<attribute name="scale" value="2"/>
		</component>
	</entity>
	<entity id="2">
		<component type="Script">
			<attribute name="SCRIPTREF" value="ai.js"/>
			<attribute name="meshRef" value="ship.dae"/>
		</component>
	</entity>
</scene>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"ship.dae", "hull.material", "glass.material", "ai.js"}, deps)
	require.Len(t, s.Entities(), 2)
	v, ok := s.Entities()[0].Components[0].Attribute("SCALE")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	_, err = s.DeserializeFromBytes([]byte("<level/>"))
	assert.Error(t, err)
}

func buildKar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	b, err := kar.NewBuilder(kar.Header{Author: "test", DateCreated: time.Now().Unix(), Version: 1})
	require.NoError(t, err)
	defer b.Close()
	for name, content := range files {
		require.NoError(t, b.Add(name, strings.NewReader(content)))
	}
	var buf bytes.Buffer
	_, err = b.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestKarBundle(t *testing.T) {
	data := buildKar(t, map[string]string{"a.txt": "alpha", "dir/b.txt": "beta"})

	b := NewKarBundle("pack.kar").(*KarBundle)
	require.NoError(t, b.DeserializeFromBytes(data, ""))
	assert.True(t, b.IsLoaded())
	assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt"}, b.SubAssetNames())
	got, err := b.SubAssetData("dir/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "beta", string(got))
	_, err = b.SubAssetData("c.txt")
	assert.ErrorIs(t, err, kar.ErrNotFound)

	file := filepath.Join(t.TempDir(), "pack.kar")
	require.NoError(t, os.WriteFile(file, data, 0644))
	require.NoError(t, b.DeserializeFromBytes(nil, file), "mapped from disk")
	assert.Equal(t, file, b.DiskSource())
	got, err = b.SubAssetData("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	b.Unload()
	assert.False(t, b.IsLoaded())
	_, err = b.SubAssetData("a.txt")
	assert.ErrorIs(t, err, ErrNotLoaded)

	assert.ErrorIs(t, b.DeserializeFromBytes([]byte("garbage"), ""), kar.ErrFileFormat)
}

func writeFile(t *testing.T, root, name string, data []byte) {
	t.Helper()
	file := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
	require.NoError(t, os.WriteFile(file, data, 0644))
}

func newEngine(t *testing.T, root string) *asset.Engine {
	t.Helper()
	e, err := asset.NewEngine(asset.Configuration{Storages: []string{"src=" + root + ";name=Disk"}},
		asset.WithLogger(assettest.QuietLogger()),
		asset.WithProvider(local.New(local.WithLogger(assettest.QuietLogger()))),
	)
	require.NoError(t, err)
	Register(e.Types())
	t.Cleanup(func() { e.Close() })
	t.Cleanup(e.ForgetAllAssets)
	return e
}

func TestEngineLoadsMaterialWithTextures(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "materials/hull.material", []byte("textures:\n  diffuse: hull.png\n  detail: ../shared/noise.png\n"))
	writeFile(t, root, "materials/hull.png", pngBytes(t, 2, 2))
	writeFile(t, root, "shared/noise.png", pngBytes(t, 8, 8))
	e := newEngine(t, root)

	tr, err := e.RequestAsset("Disk:materials/hull.material", "", false)
	require.NoError(t, err)
	assert.Equal(t, MaterialType, tr.Type())
	assettest.Pump(t, e, tr)
	require.Equal(t, asset.Completed, tr.State())

	tex, ok := e.FindAsset("Disk:materials/hull.png").(*Texture)
	require.True(t, ok)
	assert.True(t, tex.IsLoaded())
	noise, ok := e.FindAsset("Disk:shared/noise.png").(*Texture)
	require.True(t, ok)
	w, _ := noise.Size()
	assert.Equal(t, 8, w)
}

func TestEngineFailsMeshWithMissingTexture(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ship.dae", []byte(triangleDae))
	e := newEngine(t, root)

	tr, err := e.RequestAsset("Disk:ship.dae", "", false)
	require.NoError(t, err)
	var failure error
	tr.OnFailed(func(err error) { failure = err })
	assettest.Pump(t, e, tr)
	assert.Equal(t, asset.Failed, tr.State())
	assert.Error(t, failure)

	writeFile(t, root, "hull.png", pngBytes(t, 1, 1))
	tr, err = e.RequestAsset("Disk:ship.dae", "", true)
	require.NoError(t, err)
	assettest.Pump(t, e, tr)
	require.Equal(t, asset.Completed, tr.State())
	mesh, ok := tr.Asset().(*Mesh)
	require.True(t, ok)
	assert.Len(t, mesh.Vertices(), 3)
}

func TestEngineLoadsFromKarBundle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pack.kar", buildKar(t, map[string]string{
		"ui/button.material": "textures:\n  diffuse: button.png\n",
		"ui/button.png":      string(pngBytes(t, 16, 4)),
	}))
	e := newEngine(t, root)

	tr, err := e.RequestAsset("Disk:pack.kar#ui/button.material", "", false)
	require.NoError(t, err)
	assettest.Pump(t, e, tr)
	require.Equal(t, asset.Completed, tr.State())

	b, ok := e.FindBundle("Disk:pack.kar").(*KarBundle)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "pack.kar"), b.DiskSource())

	tex, ok := e.FindAsset("Disk:pack.kar#ui/button.png").(*Texture)
	require.True(t, ok)
	w, h := tex.Size()
	assert.Equal(t, 16, w)
	assert.Equal(t, 4, h)
}

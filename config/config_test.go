package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/objectpose/rimage/detection/chessboard"
	"go.viam.com/objectpose/vision/objectmodel"
	"go.viam.com/objectpose/vision/pose"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	test.That(t, cfg.Chessboard, test.ShouldResemble, chessboard.NewDefaultDetectionConfiguration())
	test.That(t, *cfg.Ransac, test.ShouldResemble, pose.DefaultRansacConfig())
	test.That(t, cfg.Objects, test.ShouldResemble, []Object{DefaultObject})
	test.That(t, cfg.AxisLength, test.ShouldEqual, DefaultAxisLength)

	registry, err := cfg.Registry()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, registry.Names(), test.ShouldResemble, []string{"cookie"})
}

func TestReadExpandsEnvironment(t *testing.T) {
	t.Setenv("OBJECTPOSE_TEST_THRESHOLD", "12.5")
	path := filepath.Join(t.TempDir(), "config.json")
	contents := `{
	"ransac": {"reprojection_error": ${OBJECTPOSE_TEST_THRESHOLD}, "iterations": 200, "confidence": 0.995, "seed": 7},
	"objects": [
		{"name": "box", "dimensions": {"length": 30, "width": 20, "height": 40}},
		{"name": "cookie", "dimensions": {"length": 44.5, "width": 44.5, "height": 11.7}}
	],
	"axis_length": 15
}`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, *cfg.Ransac, test.ShouldResemble, pose.RansacConfig{
		ReprojectionError: 12.5, Iterations: 200, Confidence: 0.995, Seed: 7,
	})
	test.That(t, cfg.Chessboard, test.ShouldResemble, chessboard.NewDefaultDetectionConfiguration())
	test.That(t, cfg.AxisLength, test.ShouldEqual, 15)

	registry, err := cfg.Registry()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, registry.Names(), test.ShouldResemble, []string{"box", "cookie"})
	idx, err := registry.IndexOf("cookie")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx, test.ShouldEqual, 1)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("", strings.NewReader(`{"objects": [`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "decode")

	_, err = FromReader("", strings.NewReader(`{"unknown_section": 1}`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Ransac: &pose.RansacConfig{ReprojectionError: 0, Iterations: 10, Confidence: 0.9},
		Objects: []Object{
			{Name: "cookie", Dimensions: objectmodel.Dimensions{Length: 1, Width: 1, Height: 1}},
			{Dimensions: objectmodel.Dimensions{Length: 1, Width: 1, Height: 1}},
			{Name: "flat", Dimensions: objectmodel.Dimensions{Length: 1, Width: 1}},
			{Name: "cookie", Dimensions: objectmodel.Dimensions{Length: 2, Width: 2, Height: 2}},
		},
		AxisLength: -1,
	}
	err := cfg.Ensure()
	test.That(t, err, test.ShouldNotBeNil)
	for _, want := range []string{
		"ransac.reprojection_error",
		"objects.1",
		"objects.2",
		`"cookie" is not unique`,
		"axis_length",
	} {
		test.That(t, err.Error(), test.ShouldContainSubstring, want)
	}
	test.That(t, err.Error(), test.ShouldNotContainSubstring, "objects.0")

	bad := NewDefaultConfig()
	bad.Chessboard.SubPix.MaxIterations = 0
	err = bad.Validate("tool")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "tool.chessboard.subpix.max-iter")
}

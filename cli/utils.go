package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/objectpose/config"
	"go.viam.com/objectpose/rimage/transform"
)

// printf prints a message with no decoration.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// loadConfig reads --config when given and otherwise returns the defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		return config.NewDefaultConfig(), nil
	}
	cfg, err := config.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load config %q", path)
	}
	return cfg, nil
}

// cameraTable renders the camera matrix and distortion coefficients of a model.
func cameraTable(model *transform.PinholeCameraModel) string {
	t := table.NewWriter()
	t.SetTitle("Camera matrix")
	k := model.GetCameraMatrix()
	for i := 0; i < 3; i++ {
		t.AppendRow(table.Row{
			fmt.Sprintf("%.4f", k.At(i, 0)),
			fmt.Sprintf("%.4f", k.At(i, 1)),
			fmt.Sprintf("%.4f", k.At(i, 2)),
		})
	}
	dist := table.NewWriter()
	dist.SetTitle("Distortion coefficients")
	dist.AppendHeader(table.Row{"k1", "k2", "p1", "p2", "k3"})
	dist.AppendRow(lo.Map(model.DistortionParameters(), func(v float64, _ int) interface{} {
		return fmt.Sprintf("%.6f", v)
	}))
	return t.Render() + "\n" + dist.Render()
}

// Package report renders recorded synchronisation packets as PNG plots.
package report

import (
	"errors"
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/imusync/internal/db"
)

// ErrNoPackets is returned when there is nothing to plot.
var ErrNoPackets = errors.New("no packets to plot")

// PlotPackets writes two plots for a session into outputDir: the number of
// IMU samples per delivered frame, and the residual between each window end
// and its frame timestamp. It returns the written file paths.
func PlotPackets(packets []db.PacketRecord, title, outputDir string) ([]string, error) {
	if len(packets) == 0 {
		return nil, ErrNoPackets
	}

	countPts := make(plotter.XYs, 0, len(packets))
	residualPts := make(plotter.XYs, 0, len(packets))
	for _, p := range packets {
		x := float64(p.FrameID)
		countPts = append(countPts, plotter.XY{X: x, Y: float64(p.SampleCount)})
		residualPts = append(residualPts, plotter.XY{X: x, Y: float64(p.WindowEnd-p.FrameTs) / 1e6})
	}

	pCount := plot.New()
	pCount.Title.Text = fmt.Sprintf("%s - IMU samples per frame", title)
	pCount.X.Label.Text = "Frame"
	pCount.Y.Label.Text = "Samples"

	pResidual := plot.New()
	pResidual.Title.Text = fmt.Sprintf("%s - Window end minus frame time", title)
	pResidual.X.Label.Text = "Frame"
	pResidual.Y.Label.Text = "Residual (ms)"

	for _, c := range []struct {
		p   *plot.Plot
		pts plotter.XYs
	}{{pCount, countPts}, {pResidual, residualPts}} {
		line, err := plotter.NewLine(c.pts)
		if err != nil {
			return nil, err
		}
		line.Width = vg.Points(1)
		c.p.Add(line, plotter.NewGrid())
	}

	files := []string{
		filepath.Join(outputDir, "samples_per_frame.png"),
		filepath.Join(outputDir, "window_residual.png"),
	}
	for i, p := range []*plot.Plot{pCount, pResidual} {
		if err := p.Save(14*vg.Inch, 6*vg.Inch, files[i]); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", files[i], err)
		}
	}
	return files, nil
}

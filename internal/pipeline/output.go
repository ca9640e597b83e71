package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/features"
	"github.com/stadtlabor/wohnlage/internal/model"
)

// outputTable renders the per-address result CSV. Every loaded address
// appears, excluded ones with their missing markers and an empty
// cluster column; the file is rewritten in full on every run.
type outputTable struct {
	matrix      *features.Matrix
	addresses   []model.Address
	std         *features.Standardized
	assignments map[string]model.ClusterAssignment
	scores      map[string]float64
}

func (t *outputTable) write(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "output: create dir %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "output: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.header()); err != nil {
		return eris.Wrap(err, "output: write header")
	}

	zByID := make(map[string][]float64, len(t.std.Included))
	for i, rowIdx := range t.std.Included {
		zByID[t.matrix.Rows[rowIdx].AddressID] = t.std.Rows[i]
	}
	addrByID := make(map[string]*model.Address, len(t.addresses))
	for i := range t.addresses {
		addrByID[t.addresses[i].ID] = &t.addresses[i]
	}

	for _, row := range t.matrix.Rows {
		record, err := t.record(row, addrByID[row.AddressID], zByID[row.AddressID])
		if err != nil {
			return err
		}
		if err := w.Write(record); err != nil {
			return eris.Wrapf(err, "output: write row %s", row.AddressID)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "output: flush")
	}
	zap.L().Info("result csv written",
		zap.String("path", path),
		zap.Int("rows", len(t.matrix.Rows)),
	)
	return nil
}

func (t *outputTable) header() []string {
	cols := []string{"id", "label", "lat", "lon"}
	for _, c := range t.matrix.Criteria {
		cols = append(cols, c.Name, c.Name+"_missing")
	}
	for _, c := range t.matrix.Criteria {
		cols = append(cols, "z_"+c.Name)
	}
	cols = append(cols, "cluster", "centroid_dist")
	if t.scores != nil {
		cols = append(cols, "weighted_score")
	}
	return cols
}

func (t *outputTable) record(row features.Row, addr *model.Address, z []float64) ([]string, error) {
	if addr == nil {
		return nil, eris.Errorf("output: row %s has no source address", row.AddressID)
	}

	record := []string{row.AddressID, addr.Label}
	if addr.Coord != nil {
		record = append(record,
			strconv.FormatFloat(addr.Coord.Lat, 'f', 6, 64),
			strconv.FormatFloat(addr.Coord.Lon, 'f', 6, 64),
		)
	} else {
		record = append(record, "", "")
	}

	for _, v := range row.Values {
		if v.IsMissing() {
			record = append(record, "", string(v.Reason))
		} else {
			record = append(record, formatFloat(v.Float), "")
		}
	}

	for j := range t.matrix.Criteria {
		if z == nil {
			record = append(record, "")
		} else {
			record = append(record, formatFloat(z[j]))
		}
	}

	if a, ok := t.assignments[row.AddressID]; ok {
		record = append(record, strconv.Itoa(a.Cluster), formatFloat(a.CentroidDist))
	} else {
		record = append(record, "", "")
	}

	if t.scores != nil {
		if s, ok := t.scores[row.AddressID]; ok {
			record = append(record, formatFloat(s))
		} else {
			record = append(record, "")
		}
	}
	return record, nil
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// weightsPath derives the weight-configuration sidecar path from the
// output CSV path: scores.csv -> scores.weights.yaml.
func weightsPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".weights.yaml"
}

// writeWeights persists the weight configuration next to the result
// CSV, so every scored run records exactly what it was weighted with.
func (p *Pipeline) writeWeights(output string) error {
	data, err := p.weights.Marshal()
	if err != nil {
		return err
	}
	path := weightsPath(output)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "output: write weights %s", path)
	}
	zap.L().Info("weights written",
		zap.String("path", path),
		zap.Int("version", p.weights.Version),
	)
	return nil
}

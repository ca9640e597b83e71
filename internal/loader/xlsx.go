package loader

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/model"
)

// LoadSchedule reads a transit schedule workbook. Expected columns:
// stop id, direction, departure time as HH:MM. The header row names
// the columns (case-insensitive: stop_id/haltestelle, richtung/
// direction, abfahrt/departure).
func LoadSchedule(path string) ([]model.Departure, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open schedule %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("loader: schedule %s has no sheets", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.Errorf("loader: schedule %s has no data rows", path)
	}

	stopIdx, dirIdx, timeIdx := -1, -1, -1
	for i, cell := range sheet.Rows[0].Cells {
		switch normalizeHeader(cell.String()) {
		case "stop_id", "haltestelle":
			stopIdx = i
		case "richtung", "direction":
			dirIdx = i
		case "abfahrt", "departure", "abfahrtszeit":
			timeIdx = i
		}
	}
	if stopIdx < 0 || timeIdx < 0 {
		return nil, eris.Errorf("loader: schedule %s is missing stop/departure columns", path)
	}

	var departures []model.Departure
	var badRows int
	for _, row := range sheet.Rows[1:] {
		stop := cellAt(row, stopIdx)
		timeS := cellAt(row, timeIdx)
		if stop == "" || timeS == "" {
			continue
		}

		minutes, err := ParseClock(timeS)
		if err != nil {
			badRows++
			continue
		}

		dir := ""
		if dirIdx >= 0 {
			dir = cellAt(row, dirIdx)
		}
		departures = append(departures, model.Departure{
			StopID:    StopMergeKey(stop),
			Direction: dir,
			Time:      minutes,
		})
	}

	if badRows > 0 {
		zap.L().Warn("schedule rows with unparseable times skipped",
			zap.String("path", path),
			zap.Int("skipped", badRows),
		)
	}
	zap.L().Info("schedule loaded", zap.String("path", path), zap.Int("departures", len(departures)))
	return departures, nil
}

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, eris.Errorf("loader: invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, eris.Errorf("loader: invalid clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, eris.Errorf("loader: invalid clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, eris.Errorf("loader: clock value %q out of range", s)
	}
	return h*60 + m, nil
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cellAt(row *xlsx.Row, idx int) string {
	if idx >= len(row.Cells) {
		return ""
	}
	return cleanCell(row.Cells[idx].String())
}

// Package locseed reads the external CSV seed of baseline location records
// that the Locations worker absorbs at bootstrap.
package locseed

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"eve-hoarder/internal/model"
)

// expectedHeader is the exact column order loc_csv_init validates.
var expectedHeader = []string{
	"stationID", "security", "stationTypeID", "corporationID", "solarSystemID", "stationName",
}

// Read parses a baseline-location CSV from r, validating the header row
// matches the expected column order exactly before reading any records.
func Read(r io.Reader) ([]model.Location, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(expectedHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("locseed: read header: %w", err)
	}
	if len(header) != len(expectedHeader) {
		return nil, fmt.Errorf("locseed: header has %d columns, want %d", len(header), len(expectedHeader))
	}
	for i, col := range expectedHeader {
		if header[i] != col {
			return nil, fmt.Errorf("locseed: header column %d = %q, want %q", i, header[i], col)
		}
	}

	var out []model.Location
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("locseed: read row: %w", err)
		}

		id, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("locseed: bad stationID %q: %w", row[0], err)
		}
		sec, err := strconv.ParseFloat(row[1], 32)
		if err != nil {
			return nil, fmt.Errorf("locseed: bad security %q: %w", row[1], err)
		}
		typeID, err := strconv.ParseUint(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("locseed: bad stationTypeID %q: %w", row[2], err)
		}
		ownerID, err := strconv.ParseUint(row[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("locseed: bad corporationID %q: %w", row[3], err)
		}
		systemID, err := strconv.ParseUint(row[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("locseed: bad solarSystemID %q: %w", row[4], err)
		}

		out = append(out, model.Location{
			ID:       id,
			TypeID:   typeID,
			OwnerID:  ownerID,
			SystemID: systemID,
			Security: float32(sec),
			Name:     row[5],
		})
	}
	return out, nil
}

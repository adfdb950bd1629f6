package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pdok/tiler/tilecoord"
)

var ErrInvalidPattern = errors.New("invalid tile path pattern")

// Dir reads tiles from files laid out by a pattern such as "/data/{z}/{x}/{y}.png".
// {-y} counts rows from the bottom (TMS layout).
type Dir struct {
	pattern string
}

func NewDir(pattern string) (*Dir, error) {
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}
	return &Dir{pattern: pattern}, nil
}

func validatePattern(pattern string) error {
	if !strings.Contains(pattern, "{y}") && !strings.Contains(pattern, "{-y}") {
		return fmt.Errorf("%w: placeholder {y} not found in %s", ErrInvalidPattern, pattern)
	}
	for _, p := range []string{"{x}", "{z}"} {
		if !strings.Contains(pattern, p) {
			return fmt.Errorf("%w: placeholder %s not found in %s", ErrInvalidPattern, p, pattern)
		}
	}
	return nil
}

func (d *Dir) Path(coord tilecoord.Coord) string {
	path := d.pattern
	path = strings.ReplaceAll(path, "{z}", strconv.Itoa(coord.Z))
	path = strings.ReplaceAll(path, "{x}", strconv.Itoa(coord.X))
	path = strings.ReplaceAll(path, "{y}", strconv.Itoa(coord.Y))
	path = strings.ReplaceAll(path, "{-y}", strconv.Itoa(tmsRow(coord)))
	return path
}

// Load ignores url and reads the file of coord. A missing file is an empty tile.
func (d *Dir) Load(ctx context.Context, coord tilecoord.Coord, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.Path(coord))
	if errors.Is(err, os.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// tmsRow flips an XYZ row into the bottom-up TMS row of a quad tree level.
func tmsRow(coord tilecoord.Coord) int {
	return (1 << coord.Z) - 1 - coord.Y
}

package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

type gridCell struct {
	i, j int
}

func (c gridCell) add(o gridCell) gridCell { return gridCell{c.i + o.i, c.j + o.j} }
func (c gridCell) sub(o gridCell) gridCell { return gridCell{c.i - o.i, c.j - o.j} }

var gridSteps = [4]gridCell{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// gridBuilder grows a lattice of candidates outwards from a seed by extrapolating known cells.
type gridBuilder struct {
	candidates []r2.Point
	used       []bool
	cells      map[gridCell]r2.Point
	basis      [2]r2.Point
	tolerance  float64
	limit      int
}

// assembleGrid finds a rows x cols lattice among the candidates and returns it in canonical order.
func assembleGrid(candidates []r2.Point, pattern PatternSize, cfg *GridConfiguration) ([]r2.Point, bool) {
	if len(candidates) < pattern.Count() {
		return nil, false
	}
	centroid := r2.Point{}
	for _, c := range candidates {
		centroid = centroid.Add(c)
	}
	centroid = centroid.Mul(1 / float64(len(candidates)))

	seeds := make([]int, len(candidates))
	for i := range seeds {
		seeds[i] = i
	}
	sort.SliceStable(seeds, func(a, b int) bool {
		return candidates[seeds[a]].Sub(centroid).Norm() < candidates[seeds[b]].Sub(centroid).Norm()
	})
	if len(seeds) > cfg.MaxSeeds {
		seeds = seeds[:cfg.MaxSeeds]
	}

	for _, seed := range seeds {
		gb := &gridBuilder{
			candidates: candidates,
			used:       make([]bool, len(candidates)),
			cells:      map[gridCell]r2.Point{},
			tolerance:  cfg.MatchTolerance,
			limit:      2 * pattern.Count(),
		}
		if !gb.grow(seed) {
			continue
		}
		grid, ok := gb.rectangle(pattern)
		if !ok {
			continue
		}
		return canonicalOrder(grid, pattern)
	}
	return nil, false
}

// nearestUnused returns the unused candidate closest to pt within maxDist.
func (gb *gridBuilder) nearestUnused(pt r2.Point, maxDist float64) (int, bool) {
	best, bestDist := -1, maxDist
	for idx, c := range gb.candidates {
		if gb.used[idx] {
			continue
		}
		if d := c.Sub(pt).Norm(); d < bestDist {
			best, bestDist = idx, d
		}
	}
	return best, best >= 0
}

func (gb *gridBuilder) assign(cell gridCell, idx int) {
	gb.used[idx] = true
	gb.cells[cell] = gb.candidates[idx]
}

func (gb *gridBuilder) grow(seed int) bool {
	origin := gb.candidates[seed]
	neighbors := make([]int, 0, len(gb.candidates)-1)
	for idx := range gb.candidates {
		if idx != seed {
			neighbors = append(neighbors, idx)
		}
	}
	sort.SliceStable(neighbors, func(a, b int) bool {
		return gb.candidates[neighbors[a]].Sub(origin).Norm() < gb.candidates[neighbors[b]].Sub(origin).Norm()
	})
	if len(neighbors) > 8 {
		neighbors = neighbors[:8]
	}
	if len(neighbors) < 2 {
		return false
	}

	first := neighbors[0]
	v1 := gb.candidates[first].Sub(origin)
	if v1.Norm() == 0 {
		return false
	}
	second := -1
	var v2 r2.Point
	for _, idx := range neighbors[1:] {
		v := gb.candidates[idx].Sub(origin)
		cos := math.Abs(v.Dot(v1)) / (v.Norm() * v1.Norm())
		if cos < 0.5 && v.Norm() < 2*v1.Norm() {
			second, v2 = idx, v
			break
		}
	}
	if second < 0 {
		return false
	}
	gb.basis = [2]r2.Point{v1, v2}

	gb.assign(gridCell{0, 0}, seed)
	gb.assign(gridCell{1, 0}, first)
	gb.assign(gridCell{0, 1}, second)
	queue := []gridCell{{0, 0}, {1, 0}, {0, 1}}

	for len(queue) > 0 {
		cell := queue[0]
		queue = queue[1:]
		for _, step := range gridSteps {
			next := cell.add(step)
			if _, ok := gb.cells[next]; ok {
				continue
			}
			pred, stepLen := gb.predict(cell, step)
			idx, ok := gb.nearestUnused(pred, gb.tolerance*stepLen)
			if !ok {
				continue
			}
			gb.assign(next, idx)
			if len(gb.cells) > gb.limit {
				return false
			}
			queue = append(queue, next)
		}
	}
	return true
}

// predict estimates where cell+step lies, preferring the local geometry over the seed basis.
func (gb *gridBuilder) predict(cell, step gridCell) (r2.Point, float64) {
	p := gb.cells[cell]
	if prev, ok := gb.cells[cell.sub(step)]; ok {
		d := p.Sub(prev)
		return p.Add(d), d.Norm()
	}
	perp := gridCell{step.j, step.i}
	for _, side := range []gridCell{perp, {-perp.i, -perp.j}} {
		a, okA := gb.cells[cell.add(side)]
		b, okB := gb.cells[cell.add(side).add(step)]
		if okA && okB {
			d := b.Sub(a)
			return p.Add(d), d.Norm()
		}
		c, okC := gb.cells[cell.add(side).sub(step)]
		if okA && okC {
			d := a.Sub(c)
			return p.Add(d), d.Norm()
		}
	}
	d := gb.basis[0]
	if step.j != 0 {
		d = gb.basis[1]
	}
	if step.i < 0 || step.j < 0 {
		d = d.Mul(-1)
	}
	return p.Add(d), d.Norm()
}

// rectangle checks the grown cells form a complete lattice matching the pattern in either
// orientation and returns it indexed [i][j] from zero.
func (gb *gridBuilder) rectangle(pattern PatternSize) ([][]r2.Point, bool) {
	if len(gb.cells) != pattern.Count() {
		return nil, false
	}
	minI, minJ := math.MaxInt, math.MaxInt
	maxI, maxJ := math.MinInt, math.MinInt
	for c := range gb.cells {
		minI, maxI = min(minI, c.i), max(maxI, c.i)
		minJ, maxJ = min(minJ, c.j), max(maxJ, c.j)
	}
	ni, nj := maxI-minI+1, maxJ-minJ+1
	if !(ni == pattern.Cols && nj == pattern.Rows) && !(ni == pattern.Rows && nj == pattern.Cols) {
		return nil, false
	}
	grid := make([][]r2.Point, ni)
	for i := range grid {
		grid[i] = make([]r2.Point, nj)
		for j := range grid[i] {
			p, ok := gb.cells[gridCell{i + minI, j + minJ}]
			if !ok {
				return nil, false
			}
			grid[i][j] = p
		}
	}
	return grid, true
}

// canonicalOrder lists the lattice row by row with Cols corners per row. Of the orderings that are
// right-handed in image space (column direction crossed with row direction points into the image),
// the one whose first corner is closest to the image origin wins.
func canonicalOrder(grid [][]r2.Point, pattern PatternSize) ([]r2.Point, bool) {
	ni := len(grid)
	if ni == 0 {
		return nil, false
	}
	nj := len(grid[0])
	rows, cols := pattern.Rows, pattern.Cols

	var best []r2.Point
	bestDist := math.Inf(1)
	for _, swap := range []bool{false, true} {
		if !swap && !(ni == cols && nj == rows) {
			continue
		}
		if swap && !(ni == rows && nj == cols) {
			continue
		}
		for _, flipC := range []bool{false, true} {
			for _, flipR := range []bool{false, true} {
				ordered := make([]r2.Point, 0, rows*cols)
				for r := 0; r < rows; r++ {
					for c := 0; c < cols; c++ {
						cc, rr := c, r
						if flipC {
							cc = cols - 1 - c
						}
						if flipR {
							rr = rows - 1 - r
						}
						if swap {
							ordered = append(ordered, grid[rr][cc])
						} else {
							ordered = append(ordered, grid[cc][rr])
						}
					}
				}
				dc := ordered[cols-1].Sub(ordered[0])
				dr := ordered[(rows-1)*cols].Sub(ordered[0])
				if dc.Cross(dr) <= 0 {
					continue
				}
				if d := ordered[0].Norm(); d < bestDist {
					best, bestDist = ordered, d
				}
			}
		}
	}
	return best, best != nil
}

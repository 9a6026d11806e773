package boost

import "math"

// Node is one node of a regression tree. Internal nodes route x[Feature] <=
// Threshold to Left; leaves carry Value.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Gain      float64 `json:"g,omitempty"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a flattened regression tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) predict(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type split struct {
	feature int
	bin     int
	gain    float64
	ok      bool
}

// grower fits one tree to the current residuals.
type grower struct {
	b     *binned
	grad  []float64
	p     Params
	nFeat int
}

func (g *grower) score(sum float64, n int) float64 {
	d := float64(n) + g.p.L2
	if d <= 0 {
		return 0
	}
	return sum * sum / d
}

func (g *grower) leafValue(idx []int) float64 {
	var sum float64
	for _, i := range idx {
		sum += g.grad[i]
	}
	d := float64(len(idx)) + g.p.L2
	if d <= 0 {
		return 0
	}
	return sum / d
}

func (g *grower) histogram(idx []int, f int) ([]float64, []int) {
	size := len(g.b.thresholds[f]) + 1
	sums := make([]float64, size)
	counts := make([]int, size)
	bins := g.b.bins[f]
	for _, i := range idx {
		sums[bins[i]] += g.grad[i]
		counts[bins[i]]++
	}
	return sums, counts
}

func total(idx []int, grad []float64) float64 {
	var s float64
	for _, i := range idx {
		s += grad[i]
	}
	return s
}

// best finds the highest-gain split of idx honoring MinSamplesLeaf. Ties keep
// the earlier feature and threshold.
func (g *grower) best(idx []int) split {
	var out split
	n := len(idx)
	if n < 2*g.p.MinSamplesLeaf {
		return out
	}
	s := total(idx, g.grad)
	parent := g.score(s, n)

	for f := 0; f < g.nFeat; f++ {
		thr := g.b.thresholds[f]
		if len(thr) == 0 {
			continue
		}
		sums, counts := g.histogram(idx, f)
		var sl float64
		var nl int
		for t := range thr {
			sl += sums[t]
			nl += counts[t]
			nr := n - nl
			if nl < g.p.MinSamplesLeaf || nr < g.p.MinSamplesLeaf {
				continue
			}
			gain := g.score(sl, nl) + g.score(s-sl, nr) - parent
			if gain > out.gain+1e-12 {
				out = split{feature: f, bin: t, gain: gain, ok: true}
			}
		}
	}
	return out
}

func (g *grower) partition(idx []int, feature, bin int) (left, right []int) {
	bins := g.b.bins[feature]
	for _, i := range idx {
		if int(bins[i]) <= bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func (g *grower) grow(idx []int) Tree {
	switch g.p.Policy {
	case Depthwise:
		return g.depthwise(idx)
	case Lossguide:
		return g.lossguide(idx)
	default:
		return g.symmetric(idx)
	}
}

// depthwise splits every node on its own best split until Depth.
func (g *grower) depthwise(idx []int) Tree {
	t := &Tree{}
	g.node(t, idx, 0)
	return *t
}

func (g *grower) node(t *Tree, idx []int, depth int) int {
	pos := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Leaf: true, Value: g.leafValue(idx)})
	if depth >= g.p.Depth {
		return pos
	}
	s := g.best(idx)
	if !s.ok {
		return pos
	}
	l, r := g.partition(idx, s.feature, s.bin)
	left := g.node(t, l, depth+1)
	right := g.node(t, r, depth+1)
	t.Nodes[pos] = Node{
		Feature:   s.feature,
		Threshold: g.b.thresholds[s.feature][s.bin],
		Left:      left,
		Right:     right,
		Gain:      s.gain,
	}
	return pos
}

type candidate struct {
	pos   int
	idx   []int
	depth int
	s     split
}

// lossguide always splits the open leaf with the highest gain until the tree
// has MaxLeaves leaves.
func (g *grower) lossguide(idx []int) Tree {
	t := Tree{Nodes: []Node{{Leaf: true, Value: g.leafValue(idx)}}}
	open := []candidate{g.candidate(0, idx, 0)}
	leaves := 1

	for leaves < g.p.MaxLeaves {
		pick := -1
		for i, c := range open {
			if c.s.ok && (pick < 0 || c.s.gain > open[pick].s.gain) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		c := open[pick]
		open = append(open[:pick], open[pick+1:]...)

		l, r := g.partition(c.idx, c.s.feature, c.s.bin)
		lp := len(t.Nodes)
		t.Nodes = append(t.Nodes,
			Node{Leaf: true, Value: g.leafValue(l)},
			Node{Leaf: true, Value: g.leafValue(r)},
		)
		t.Nodes[c.pos] = Node{
			Feature:   c.s.feature,
			Threshold: g.b.thresholds[c.s.feature][c.s.bin],
			Left:      lp,
			Right:     lp + 1,
			Gain:      c.s.gain,
		}
		leaves++
		open = append(open, g.candidate(lp, l, c.depth+1), g.candidate(lp+1, r, c.depth+1))
	}
	return t
}

func (g *grower) candidate(pos int, idx []int, depth int) candidate {
	c := candidate{pos: pos, idx: idx, depth: depth}
	if depth < g.p.Depth {
		c.s = g.best(idx)
	}
	return c
}

type level struct {
	feature int
	bin     int
}

// symmetric grows an oblivious tree: every node of a level shares one split,
// chosen to maximize the gain summed over the level.
func (g *grower) symmetric(idx []int) Tree {
	groups := [][]int{idx}
	var levels []level

	for depth := 0; depth < g.p.Depth; depth++ {
		bestF, bestT := -1, -1
		bestGain := 1e-12
		for f := 0; f < g.nFeat; f++ {
			thr := g.b.thresholds[f]
			if len(thr) == 0 {
				continue
			}
			gains := make([]float64, len(thr))
			for _, grp := range groups {
				if len(grp) == 0 {
					continue
				}
				sums, counts := g.histogram(grp, f)
				s := total(grp, g.grad)
				parent := g.score(s, len(grp))
				var sl float64
				var nl int
				for t := range thr {
					sl += sums[t]
					nl += counts[t]
					gains[t] += g.score(sl, nl) + g.score(s-sl, len(grp)-nl) - parent
				}
			}
			for t, gain := range gains {
				if gain > bestGain {
					bestF, bestT, bestGain = f, t, gain
				}
			}
		}
		if bestF < 0 {
			break
		}
		levels = append(levels, level{feature: bestF, bin: bestT})
		next := make([][]int, 0, 2*len(groups))
		for _, grp := range groups {
			l, r := g.partition(grp, bestF, bestT)
			next = append(next, l, r)
		}
		groups = next
	}

	t := &Tree{}
	g.oblivious(t, idx, levels, 0, g.leafValue(idx))
	return *t
}

func (g *grower) oblivious(t *Tree, idx []int, levels []level, depth int, parent float64) int {
	pos := len(t.Nodes)
	value := parent
	if len(idx) > 0 {
		value = g.leafValue(idx)
	}
	t.Nodes = append(t.Nodes, Node{Leaf: true, Value: value})
	if depth >= len(levels) {
		return pos
	}

	lv := levels[depth]
	l, r := g.partition(idx, lv.feature, lv.bin)
	s := total(idx, g.grad)
	gain := g.score(total(l, g.grad), len(l)) + g.score(total(r, g.grad), len(r)) - g.score(s, len(idx))

	left := g.oblivious(t, l, levels, depth+1, value)
	right := g.oblivious(t, r, levels, depth+1, value)
	t.Nodes[pos] = Node{
		Feature:   lv.feature,
		Threshold: g.b.thresholds[lv.feature][lv.bin],
		Left:      left,
		Right:     right,
		Gain:      math.Max(gain, 0),
	}
	return pos
}

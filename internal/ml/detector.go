package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"insiderwatch/internal/config"
)

// ErrInsufficientData is returned when a batch is too small to fit the model.
// Callers fall back to rule and pattern scores only.
var ErrInsufficientData = errors.New("ml: insufficient data")

// Score is the per-row detector output.
type Score struct {
	// Anomaly is a [0,1] score centred on the batch's contamination threshold.
	Anomaly    float64
	Confidence float64
	Outlier    bool
	// Raw is the isolation score 2^(-E[h]/c(psi)).
	Raw float64
}

type Result struct {
	Scores    []Score
	Threshold float64
	Samples   int
}

// Detector is an isolation forest fit on, and scoring, a single batch.
// Results are deterministic for the same rows in the same order.
type Detector struct {
	Config config.MLConfig
}

func New(cfg config.MLConfig) *Detector {
	return &Detector{Config: cfg}
}

func (d *Detector) minBatch() int {
	if d.Config.MinBatchSize < 2 {
		return 2
	}
	return d.Config.MinBatchSize
}

// FitScore fits a fresh forest on rows and scores every row.
func (d *Detector) FitScore(ctx context.Context, rows [][]float64) (Result, error) {
	n := len(rows)
	if n < d.minBatch() {
		return Result{}, fmt.Errorf("%w: %d rows, need %d", ErrInsufficientData, n, d.minBatch())
	}
	dims := len(rows[0])
	for i, r := range rows {
		if len(r) != dims {
			return Result{}, fmt.Errorf("ml: row %d has %d features, want %d", i, len(r), dims)
		}
	}

	data := standardize(rows)

	trees := d.Config.Trees
	if trees <= 0 {
		trees = 100
	}
	psi := d.Config.SampleSize
	if psi <= 0 || psi > n {
		psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	paths := make([][]float64, trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < trees; t++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(d.Config.Seed + int64(t)*7919))
			sample := rng.Perm(n)[:psi]
			root := buildTree(data, sample, 0, maxDepth, rng)
			out := make([]float64, n)
			for i, x := range data {
				out[i] = pathLength(root, x)
			}
			paths[t] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	cpsi := averagePathLength(psi)
	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for t := 0; t < trees; t++ {
			sum += paths[t][i]
		}
		mean := sum / float64(trees)
		if cpsi > 0 {
			raw[i] = math.Pow(2, -mean/cpsi)
		} else {
			raw[i] = 0.5
		}
	}

	threshold := quantile(raw, 1-d.Config.Contamination)
	sharpness := d.Config.Sharpness
	if sharpness <= 0 {
		sharpness = 10
	}

	res := Result{Scores: make([]Score, n), Threshold: threshold, Samples: n}
	for i, s := range raw {
		diff := s - threshold
		// diff is on the isolation-score scale (0..1), not the decision-function scale.
		res.Scores[i] = Score{
			Anomaly:    1 / (1 + math.Exp(-sharpness*diff)),
			Confidence: math.Min(1, math.Abs(diff)*2),
			Outlier:    s >= threshold,
			Raw:        s,
		}
	}
	return res, nil
}

// standardize copies rows, replacing non-finite values with 0 and scaling
// each column to zero mean and unit variance. Constant columns become 0.
func standardize(rows [][]float64) [][]float64 {
	n, dims := len(rows), len(rows[0])
	out := make([][]float64, n)
	for i := range rows {
		out[i] = make([]float64, dims)
		for f, v := range rows[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			out[i][f] = v
		}
	}
	col := make([]float64, n)
	for f := 0; f < dims; f++ {
		for i := range out {
			col[i] = out[i][f]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		for i := range out {
			if std > 0 && !math.IsNaN(std) {
				out[i][f] = (out[i][f] - mean) / std
			} else {
				out[i][f] = 0
			}
		}
	}
	return out
}

func quantile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	p = math.Min(math.Max(p, 0), 1)
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}

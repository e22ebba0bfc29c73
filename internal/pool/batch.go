package pool

import "simpool/internal/ipc"

// Batch is N observations stacked row-major. Shape[0] is N.
type Batch struct {
	Shape []int
	Data  []float32
}

func newBatch(n int, spaces ipc.Spaces) Batch {
	shape := append([]int{n}, spaces.ObsShape...)
	return Batch{Shape: shape, Data: make([]float32, n*spaces.ObsSize())}
}

func (b Batch) rowSize() int {
	if len(b.Shape) == 0 || b.Shape[0] == 0 {
		return 0
	}
	return len(b.Data) / b.Shape[0]
}

// Row returns worker i's observation. The slice aliases the batch.
func (b Batch) Row(i int) []float32 {
	size := b.rowSize()
	return b.Data[i*size : (i+1)*size]
}

// set copies obs into row i and reports whether its length fit.
func (b Batch) set(i int, obs []float32) bool {
	row := b.Row(i)
	if len(obs) != len(row) {
		return false
	}
	copy(row, obs)
	return true
}

func (b Batch) zero(i int) {
	clear(b.Row(i))
}

// RoundResult is what one round returns, one entry per worker.
type RoundResult struct {
	Obs     Batch
	Rewards []float64
	Dones   []bool
	Infos   []map[string]any
}

func cloneInfo(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

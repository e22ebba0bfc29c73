package pool

import "context"

// WorkerRecord is one worker's line in a round summary.
type WorkerRecord struct {
	Worker int
	Reward float64
	Done   bool
	State  State
	Fault  string
}

// Recorder persists round summaries. Failures are logged and otherwise
// ignored.
type Recorder interface {
	RecordRound(ctx context.Context, round int, workers []WorkerRecord) error
}

func (p *Pool) record(ctx context.Context, res RoundResult) {
	if p.recorder == nil {
		return
	}
	recs := make([]WorkerRecord, len(p.workers))
	for i, h := range p.workers {
		fault, _ := res.Infos[i]["error"].(string)
		recs[i] = WorkerRecord{
			Worker: i,
			Reward: res.Rewards[i],
			Done:   res.Dones[i],
			State:  h.state,
			Fault:  fault,
		}
	}
	if err := p.recorder.RecordRound(ctx, p.round, recs); err != nil {
		p.logger.Printf("record round %d: %v", p.round, err)
	}
}

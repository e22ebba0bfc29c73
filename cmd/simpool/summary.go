package main

import (
	"encoding/json"
	"math/rand"
	"os"

	"simpool/internal/pool"
)

type summary struct {
	RunID       string         `json:"run_id,omitempty"`
	Status      string         `json:"status"`
	Workers     int            `json:"workers"`
	Rounds      int            `json:"rounds"`
	Episodes    int            `json:"episodes"`
	MeanEpisode float64        `json:"mean_episode_reward"`
	Rewards     []float64      `json:"rewards"`
	Faults      map[string]int `json:"faults"`
	States      []string       `json:"states"`
	Seconds     float64        `json:"seconds"`
	Error       string         `json:"error,omitempty"`

	episodeSum float64
}

func newSummary(workers int) *summary {
	return &summary{
		Workers: workers,
		Rewards: make([]float64, workers),
		Faults:  map[string]int{},
	}
}

func (s *summary) add(res pool.RoundResult) {
	s.Rounds++
	for i := range res.Rewards {
		s.Rewards[i] += res.Rewards[i]
		if fault, ok := res.Infos[i]["error"].(string); ok {
			s.Faults[fault]++
		}
		if !res.Dones[i] {
			continue
		}
		if ep, ok := res.Infos[i]["episode"].(map[string]any); ok {
			r, _ := ep["r"].(float64)
			s.Episodes++
			s.episodeSum += r
		}
	}
	if s.Episodes > 0 {
		s.MeanEpisode = s.episodeSum / float64(s.Episodes)
	}
}

func (s *summary) finish(states []pool.State) {
	s.States = make([]string, len(states))
	for i, st := range states {
		s.States[i] = st.String()
	}
}

func marshalPretty(v any) []byte {
	b, _ := json.MarshalIndent(v, "", "  ")
	return b
}

func writeSummary(path string, s *summary) error {
	return os.WriteFile(path, marshalPretty(s), 0o644)
}

// pickActions draws a uniformly random allowed action per worker. A worker
// with nothing allowed holds.
func pickActions(rng *rand.Rand, masks [][]bool) []int {
	actions := make([]int, len(masks))
	for i, mask := range masks {
		var valid []int
		for a, ok := range mask {
			if ok {
				valid = append(valid, a)
			}
		}
		if len(valid) > 0 {
			actions[i] = valid[rng.Intn(len(valid))]
		}
	}
	return actions
}

// Package analytics derives per-topic weak areas and score statistics from
// stored attempts.
package analytics

import (
	"math"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// StrongThreshold is the topic percentage at or above which a topic is Strong.
const StrongThreshold = 70

// UnknownTopic labels questions stored without a topic.
const UnknownTopic = "Unknown"

// TopicStatus labels a topic Strong or Needs Improvement.
type TopicStatus string

const (
	TopicStrong           TopicStatus = "Strong"
	TopicNeedsImprovement TopicStatus = "Needs Improvement"
)

// TopicStat is the accuracy of one topic within an attempt.
type TopicStat struct {
	Topic      string      `json:"topic"`
	Correct    int         `json:"correct"`
	Total      int         `json:"total"`
	Percentage int         `json:"percentage"`
	Status     TopicStatus `json:"status"`
}

// WeakAreas groups a result payload by topic (exact, case-sensitive match)
// in order of first appearance. A nil or empty payload gives an empty slice.
func WeakAreas(p *model.ResultPayload) []TopicStat {
	stats := []TopicStat{}
	if p == nil {
		return stats
	}

	index := make(map[string]int)
	for _, q := range p.Questions {
		topic := q.Topic
		if topic == "" {
			topic = UnknownTopic
		}
		i, ok := index[topic]
		if !ok {
			i = len(stats)
			index[topic] = i
			stats = append(stats, TopicStat{Topic: topic})
		}
		stats[i].Total++
		if q.Correct {
			stats[i].Correct++
		}
	}

	for i := range stats {
		stats[i].Percentage = int(math.Round(float64(stats[i].Correct) / float64(stats[i].Total) * 100))
		if stats[i].Percentage >= StrongThreshold {
			stats[i].Status = TopicStrong
		} else {
			stats[i].Status = TopicNeedsImprovement
		}
	}
	return stats
}

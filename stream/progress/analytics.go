package progress

import (
	"math"
	"time"
)

// Analytics is the derived snapshot. Watch times are in seconds, scores
// in [0,100].
type Analytics struct {
	TotalWatchTime   float64 `json:"totalWatchTime"`
	AverageWatchTime float64 `json:"averageWatchTime"`
	InteractionCount int     `json:"interactionCount"`
	BookmarkCount    int     `json:"bookmarkCount"`
	NoteCount        int     `json:"noteCount"`
	QuizAttempts     int     `json:"quizAttempts"`
	QuizSuccessRate  float64 `json:"quizSuccessRate"`
	EngagementScore  float64 `json:"engagementScore"`
	LearningVelocity float64 `json:"learningVelocity"`
	ConsistencyScore float64 `json:"consistencyScore"`
}

// EngagementScore blends watch time (30%), interaction volume (40%) and
// quiz success (30%).
func EngagementScore(totalWatchSeconds float64, interactions int, quizSuccessRate float64) float64 {
	watch := math.Min(100, totalWatchSeconds/3600*20)
	inter := math.Min(100, float64(interactions)*2)
	return math.Round(watch*0.3 + inter*0.4 + quizSuccessRate*0.3)
}

// LearningVelocity compares progress against ten hours per course. ok is
// false without watch time.
func LearningVelocity(completionRate, totalWatchSeconds float64) (v float64, ok bool) {
	if totalWatchSeconds <= 0 {
		return 0, false
	}
	return (completionRate / 100) / ((totalWatchSeconds / 3600) / 10), true
}

// BlendSuccessRate updates a running pass rate with one more result. The
// prior pass count is rebuilt from prevRate and attempts-1, so the result
// is exact only if every attempt was observed.
func BlendSuccessRate(prevRate float64, attempts int, passed bool) float64 {
	if attempts <= 0 {
		return prevRate
	}

	prior := prevRate / 100 * float64(attempts-1)
	if passed {
		prior++
	}
	return prior / float64(attempts) * 100
}

// ExactQuizSuccessRate folds over the full score list.
func ExactQuizSuccessRate(scores []TestScore, threshold float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	var passed int
	for _, s := range scores {
		if s.Passed(threshold) {
			passed++
		}
	}
	return float64(passed) / float64(len(scores)) * 100
}

// consistencyScore decays from 100 to 0 over two weeks since the last
// visit. A record that was never accessed scores 0.
func consistencyScore(lastAccessed, now time.Time) float64 {
	if lastAccessed.IsZero() {
		return 0
	}

	days := now.Sub(lastAccessed).Hours() / 24
	if days <= 1 {
		return 100
	}
	return math.Max(0, math.Round(100-(days-1)*100/13))
}

func initialAnalytics(r Record, now time.Time, threshold float64) Analytics {
	a := Analytics{
		TotalWatchTime:   float64(r.StudyMinutes * 60),
		QuizAttempts:     len(r.TestScores),
		QuizSuccessRate:  ExactQuizSuccessRate(r.TestScores, threshold),
		ConsistencyScore: consistencyScore(r.LastAccessed, now),
	}

	sections := r.CurrentSection
	if sections < 1 {
		sections = 1
	}
	a.AverageWatchTime = a.TotalWatchTime / float64(sections)

	if v, ok := LearningVelocity(r.CompletionRate, a.TotalWatchTime); ok {
		a.LearningVelocity = v
	}
	a.EngagementScore = EngagementScore(a.TotalWatchTime, a.InteractionCount, a.QuizSuccessRate)
	return a
}

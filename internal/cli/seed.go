package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/pkg/logger"
)

var seedPatients = []string{
	"Ana Silva", "Bruno Costa", "Carla Souza", "Daniel Lima", "Eduarda Alves",
	"Felipe Rocha", "Gabriela Dias", "Heitor Nunes", "Isabela Melo", "João Pereira",
}

var seedEvaluators = []string{"Dra. Paula", "Dr. Marcos", "Dra. Renata"}

// SeedConfig controls a seeding run.
type SeedConfig struct {
	Count    int
	Workers  int
	Patients int
	// Start is the first evaluation date; each questionnaire is a day later.
	Start time.Time
}

// SeedStats summarizes a seeding run.
type SeedStats struct {
	Submitted int           `json:"submitted"`
	Accepted  int           `json:"accepted"`
	Throttled int           `json:"throttled"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// randomInt returns a uniform value in [0, n) using crypto/rand.
func randomInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// generateQuestionnaire fills every question with a random score.
func generateQuestionnaire(i int, cfg SeedConfig) model.EvaluationRecord {
	responses := make(model.Responses, model.QuestionCount)
	for q := 1; q <= model.QuestionCount; q++ {
		responses[q] = model.Response{Score: model.MinScore + randomInt(model.MaxScore-model.MinScore+1)}
	}
	patients := min(max(cfg.Patients, 1), len(seedPatients))
	return model.EvaluationRecord{
		PatientInfo: model.PatientInfo{
			Name:           seedPatients[i%patients],
			EvaluationDate: cfg.Start.AddDate(0, 0, i).Format(model.DateLayout),
		},
		EvaluatorInfo: model.EvaluatorInfo{Name: seedEvaluators[i%len(seedEvaluators)]},
		Responses:     responses,
	}
}

// Seed submits cfg.Count generated questionnaires with cfg.Workers
// concurrent clients.
func Seed(ctx context.Context, c *Client, cfg SeedConfig) (SeedStats, error) {
	if cfg.Count <= 0 {
		return SeedStats{}, errors.New("count must be positive")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC().AddDate(0, 0, -cfg.Count)
	}

	log := logger.Named("seed")
	log.Info(ctx, "seeding questionnaires",
		logger.Int("count", cfg.Count),
		logger.Int("workers", cfg.Workers),
	)

	var submitted, accepted, throttled, failed int64
	start := time.Now()

	jobs := make(chan int, cfg.Workers*2)
	var wg sync.WaitGroup
	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				atomic.AddInt64(&submitted, 1)
				_, err := c.Post(ctx, "/api/evaluations", generateQuestionnaire(i, cfg))
				var apiErr *APIError
				switch {
				case err == nil:
					atomic.AddInt64(&accepted, 1)
				case errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests:
					atomic.AddInt64(&throttled, 1)
				default:
					atomic.AddInt64(&failed, 1)
					log.Debug(ctx, "submission failed", logger.Int("index", i), logger.Error(err))
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range cfg.Count {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()

	stats := SeedStats{
		Submitted: int(atomic.LoadInt64(&submitted)),
		Accepted:  int(atomic.LoadInt64(&accepted)),
		Throttled: int(atomic.LoadInt64(&throttled)),
		Failed:    int(atomic.LoadInt64(&failed)),
		Duration:  time.Since(start),
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("seeding interrupted: %w", err)
	}
	log.Info(ctx, "seeding completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("throttled", stats.Throttled),
		logger.Int("failed", stats.Failed),
	)
	return stats, nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"squad-clash/core/internal/runner"
)

// Models lists every table the store migrates.
var Models = []interface{}{
	&Run{},
	&Battle{},
}

// Run is one finished headless match.
type Run struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time      `json:"createdAt"`
	Name      string         `json:"name" gorm:"size:127"`
	Seed      string         `json:"seed" gorm:"size:127;index"`
	Ticks     uint64         `json:"ticks"`
	Round     int            `json:"round"`
	Phase     string         `json:"phase" gorm:"size:16"`
	Executed  int            `json:"executed"`
	Failures  int            `json:"failures"`
	Completed bool           `json:"completed"`
	Ended     bool           `json:"ended"`
	Checksum  string         `json:"checksum" gorm:"size:64;index"`
	Stats     datatypes.JSON `json:"stats"`
	Log       datatypes.JSON `json:"log"`
	Battles   []Battle       `json:"battles" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// Battle is one resolved round of a run.
type Battle struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	RunID      string `json:"runId" gorm:"size:36;index"`
	Round      int    `json:"round"`
	Winner     string `json:"winner" gorm:"size:8"`
	Reason     string `json:"reason" gorm:"size:32"`
	DurationMs int64  `json:"durationMs"`
	Survivors  int    `json:"survivors"`
}

func toJSON(v any) (datatypes.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// RunFromReport converts a runner report into a row with its battles.
func RunFromReport(id, name string, report runner.Report) (Run, error) {
	stats, err := toJSON(report.Stats)
	if err != nil {
		return Run{}, fmt.Errorf("encode stats: %w", err)
	}
	log, err := toJSON(report.Log)
	if err != nil {
		return Run{}, fmt.Errorf("encode log: %w", err)
	}
	run := Run{
		ID:        id,
		Name:      name,
		Seed:      report.Seed,
		Ticks:     report.Ticks,
		Round:     report.Round,
		Phase:     report.Phase,
		Executed:  report.Executed,
		Failures:  report.Failures,
		Completed: report.Completed,
		Ended:     report.Ended,
		Checksum:  report.Checksum,
		Stats:     stats,
		Log:       log,
	}
	for _, result := range report.Results {
		run.Battles = append(run.Battles, Battle{
			RunID:      id,
			Round:      result.Round,
			Winner:     result.Winner.String(),
			Reason:     string(result.Reason),
			DurationMs: result.Duration.Milliseconds(),
			Survivors:  result.Survivors,
		})
	}
	return run, nil
}

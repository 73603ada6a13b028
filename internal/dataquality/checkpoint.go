package dataquality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	checkpointClassSimple = "SimpleCheckpoint"

	runNameLayout = "20060102T150405.000000Z"
	runTimeLayout = "2006-01-02T15:04:05.000000-07:00"
)

type ValidationConfig struct {
	BatchRequest         BatchRequest `json:"batch_request"`
	ExpectationSuiteName string       `json:"expectation_suite_name"`
}

type CheckpointConfig struct {
	Name            string             `json:"name"`
	ClassName       string             `json:"class_name"`
	ConfigVersion   float64            `json:"config_version"`
	RunNameTemplate string             `json:"run_name_template,omitempty"`
	ActionList      []map[string]any   `json:"action_list"`
	Validations     []ValidationConfig `json:"validations"`
}

func (c CheckpointConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("checkpoint name is required")
	}
	if c.ClassName != "" && c.ClassName != checkpointClassSimple {
		return fmt.Errorf("checkpoint class_name unsupported: %q", c.ClassName)
	}
	if len(c.Validations) == 0 {
		return errors.New("checkpoint validations must be non-empty")
	}
	for i, v := range c.Validations {
		if err := v.BatchRequest.Validate(); err != nil {
			return fmt.Errorf("validations[%d]: %w", i, err)
		}
		if strings.TrimSpace(v.ExpectationSuiteName) == "" {
			return fmt.Errorf("validations[%d]: expectation_suite_name is required", i)
		}
	}
	return nil
}

type RunIdentifier struct {
	RunName string `json:"run_name"`
	RunTime string `json:"run_time"`
}

type RunResult struct {
	ValidationResult ValidationResult `json:"validation_result"`
	ActionsResults   map[string]any   `json:"actions_results"`
}

// CheckpointResult is the outcome of one checkpoint run. RunResults is keyed
// by the validation result identifier.
type CheckpointResult struct {
	RunID            RunIdentifier        `json:"run_id"`
	RunResults       map[string]RunResult `json:"run_results"`
	CheckpointConfig CheckpointConfig     `json:"checkpoint_config"`
	Success          bool                 `json:"success"`
}

type Checkpoint struct {
	dc  *DataContext
	cfg CheckpointConfig
}

// NewCheckpoint builds a SimpleCheckpoint bound to the data context.
func (dc *DataContext) NewCheckpoint(cfg CheckpointConfig) (*Checkpoint, error) {
	if cfg.ClassName == "" {
		cfg.ClassName = checkpointClassSimple
	}
	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = 1
	}
	if cfg.ActionList == nil {
		cfg.ActionList = []map[string]any{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Checkpoint{dc: dc, cfg: cfg}, nil
}

func (c *Checkpoint) Name() string { return c.cfg.Name }

// Run validates every configured batch against its suite. Batch and suite
// resolution failures abort the run; expectation failures do not.
func (c *Checkpoint) Run(ctx context.Context) (CheckpointResult, error) {
	runTime := c.dc.now().UTC()
	runID := RunIdentifier{
		RunName: expandRunName(c.cfg.RunNameTemplate, runTime),
		RunTime: runTime.Format(runTimeLayout),
	}

	out := CheckpointResult{
		RunID:            runID,
		RunResults:       make(map[string]RunResult, len(c.cfg.Validations)),
		CheckpointConfig: c.cfg,
		Success:          true,
	}

	for i, v := range c.cfg.Validations {
		batch, err := c.dc.GetBatch(ctx, v.BatchRequest)
		if err != nil {
			return CheckpointResult{}, fmt.Errorf("checkpoint %q validations[%d]: %w", c.cfg.Name, i, err)
		}
		suite, err := c.dc.GetExpectationSuite(ctx, v.ExpectationSuiteName)
		if err != nil {
			return CheckpointResult{}, fmt.Errorf("checkpoint %q validations[%d]: %w", c.cfg.Name, i, err)
		}

		batchID := batch.Definition.ID()
		result := validate(batch, suite, ValidationMeta{
			ExpectationSuiteName:  suite.Name,
			RunID:                 runID,
			BatchSpec:             batch.Spec,
			BatchMarkers:          map[string]any{"ge_load_time": formatValidationTime(runTime)},
			ActiveBatchDefinition: batch.Definition,
			ValidationTime:        formatValidationTime(c.dc.now()),
			CheckpointName:        c.cfg.Name,
		})

		key := fmt.Sprintf("ValidationResultIdentifier::%s/%s/%s/%s",
			suite.Name, runID.RunName, runTime.Format(runNameLayout), batchID)
		out.RunResults[key] = RunResult{ValidationResult: result, ActionsResults: map[string]any{}}
		if !result.Success {
			out.Success = false
		}

		c.dc.logger.Info("validation complete",
			"checkpoint", c.cfg.Name,
			"datasource", v.BatchRequest.DatasourceName,
			"data_asset", v.BatchRequest.DataAssetName,
			"suite", suite.Name,
			"batch_id", batchID,
			"success", result.Success,
			"evaluated", result.Statistics.EvaluatedExpectations,
			"unsuccessful", result.Statistics.UnsuccessfulExpectations,
		)
	}
	return out, nil
}

var strftimeLayouts = map[byte]string{
	'Y': "2006",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'f': "000000",
}

// expandRunName applies the strftime-style directives of a run name
// template. An empty template names the run after its UTC time.
func expandRunName(template string, t time.Time) string {
	t = t.UTC()
	if strings.TrimSpace(template) == "" {
		return t.Format(runNameLayout)
	}
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		if template[i] != '%' || i == len(template)-1 {
			b.WriteByte(template[i])
			continue
		}
		i++
		switch layout, ok := strftimeLayouts[template[i]]; {
		case ok:
			b.WriteString(t.Format(layout))
		case template[i] == '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(template[i])
		}
	}
	return b.String()
}

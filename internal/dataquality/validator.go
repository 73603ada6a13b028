package dataquality

import (
	"fmt"
	"runtime/debug"
	"time"
)

type ExpectationValidationResult struct {
	Success           bool                     `json:"success"`
	ExpectationConfig ExpectationConfiguration `json:"expectation_config"`
	Result            map[string]any           `json:"result"`
	Meta              map[string]any           `json:"meta"`
	ExceptionInfo     ExceptionInfo            `json:"exception_info"`
}

type ExceptionInfo struct {
	RaisedException  bool    `json:"raised_exception"`
	ExceptionMessage *string `json:"exception_message"`
	ExceptionTrace   *string `json:"exception_traceback"`
}

type Statistics struct {
	EvaluatedExpectations    int      `json:"evaluated_expectations"`
	SuccessfulExpectations   int      `json:"successful_expectations"`
	UnsuccessfulExpectations int      `json:"unsuccessful_expectations"`
	SuccessPercent           *float64 `json:"success_percent"`
}

type ValidationMeta struct {
	ExpectationSuiteName  string          `json:"expectation_suite_name"`
	RunID                 RunIdentifier   `json:"run_id"`
	BatchSpec             map[string]any  `json:"batch_spec"`
	BatchMarkers          map[string]any  `json:"batch_markers"`
	ActiveBatchDefinition BatchDefinition `json:"active_batch_definition"`
	ValidationTime        string          `json:"validation_time"`
	CheckpointName        string          `json:"checkpoint_name"`
}

type ValidationResult struct {
	Success    bool                          `json:"success"`
	Results    []ExpectationValidationResult `json:"results"`
	Statistics Statistics                    `json:"statistics"`
	Meta       ValidationMeta                `json:"meta"`
	Evaluation map[string]any                `json:"evaluation_parameters"`
}

// validate evaluates every expectation of suite against batch. An
// expectation that cannot be evaluated is reported as an unsuccessful result
// carrying exception_info; it never aborts the run.
func validate(batch *Batch, suite ExpectationSuite, meta ValidationMeta) ValidationResult {
	results := make([]ExpectationValidationResult, 0, len(suite.Expectations))
	var stats Statistics
	for _, exp := range suite.Expectations {
		res := evaluateExpectation(batch, exp)
		results = append(results, res)
		stats.EvaluatedExpectations++
		if res.Success {
			stats.SuccessfulExpectations++
		} else {
			stats.UnsuccessfulExpectations++
		}
	}
	if stats.EvaluatedExpectations > 0 {
		pct := float64(stats.SuccessfulExpectations) / float64(stats.EvaluatedExpectations) * 100
		stats.SuccessPercent = &pct
	}

	return ValidationResult{
		Success:    stats.UnsuccessfulExpectations == 0,
		Results:    results,
		Statistics: stats,
		Meta:       meta,
		Evaluation: map[string]any{},
	}
}

func evaluateExpectation(batch *Batch, exp ExpectationConfiguration) (res ExpectationValidationResult) {
	res = ExpectationValidationResult{
		ExpectationConfig: exp,
		Result:            map[string]any{},
		Meta:              map[string]any{},
	}

	fn, ok := expectationRegistry[exp.ExpectationType]
	if !ok {
		res.ExceptionInfo = raised(fmt.Sprintf("unsupported expectation type %q", exp.ExpectationType), "")
		return res
	}

	defer func() {
		if rec := recover(); rec != nil {
			res.Success = false
			res.Result = map[string]any{}
			res.ExceptionInfo = raised(fmt.Sprint(rec), string(debug.Stack()))
		}
	}()

	out, err := fn(batch, kwargs(exp.Kwargs))
	if err != nil {
		res.ExceptionInfo = raised(err.Error(), "")
		return res
	}
	res.Success = out.success
	if out.result != nil {
		res.Result = out.result
	}
	return res
}

func raised(message string, trace string) ExceptionInfo {
	info := ExceptionInfo{RaisedException: true, ExceptionMessage: &message}
	if trace != "" {
		info.ExceptionTrace = &trace
	}
	return info
}

func formatValidationTime(t time.Time) string {
	return t.UTC().Format(runNameLayout)
}

package pipe

import (
	"context"
	"time"

	"github.com/google/uuid"

	flowctx "github.com/vnykmshr/opflow/pkg/common/context"
	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/metrics"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/stage"
)

// Call runs the pipe on props and returns the final properties.
func (p *Pipe) Call(ctx context.Context, props map[string]interface{}) (map[string]interface{}, error) {
	result, err := p.Execute(ctx, props)
	if err != nil {
		return nil, err
	}
	return result.Output, nil
}

// Execute runs the pipe on props and returns the detailed result.
func (p *Pipe) Execute(ctx context.Context, props map[string]interface{}) (*Result, error) {
	result := <-p.ExecuteAsync(ctx, props)
	return result, result.Error
}

// ExecuteAsync runs the pipe in its own goroutine. The channel receives
// exactly one result and is then closed.
func (p *Pipe) ExecuteAsync(ctx context.Context, props map[string]interface{}) <-chan *Result {
	resultCh := make(chan *Result, 1)

	go func() {
		defer close(resultCh)
		resultCh <- p.run(ctx, props)
	}()

	return resultCh
}

func (p *Pipe) run(ctx context.Context, props map[string]interface{}) *Result {
	runID := uuid.NewString()
	ctx = flowctx.WithRunID(ctx, runID)

	startTime := time.Now()
	result := &Result{
		RunID:        runID,
		Input:        props,
		StartTime:    startTime,
		StageResults: make([]StageResult, 0, len(p.stages)),
	}

	if p.config.OnPipelineStart != nil {
		p.config.OnPipelineStart(props)
	}

	ctx, cancel, budget := flowctx.WithBudget(ctx, flowctx.Budget{
		Scope:   gferrors.ScopePipe,
		Name:    p.config.Name,
		Timeout: p.config.Timeout,
	})
	defer cancel()

	log := p.logger.WithContext(ctx)
	log.Debug("pipe started", logging.Duration("budget", budget))

	records := []record.Record{record.New(props)}
	records, err := p.executeStages(ctx, records, result, budget)
	if err == nil && len(records) != 1 {
		err = gferrors.NewExecutionError("pipe %q produced %d records, expected 1", p.config.Name, len(records))
	}
	if err == nil {
		result.Output = records[0].ToMap()
	}

	result.Error = err
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	p.updateStats(result)
	p.observer.PipeCompleted(metrics.PipeEvent{
		RunID:    runID,
		Pipe:     p.config.Name,
		Stages:   len(result.StageResults),
		Duration: result.Duration,
		Err:      err,
	})
	if err != nil {
		log.Error("pipe failed", err, logging.Duration("duration", result.Duration))
	} else {
		log.Info("pipe completed", logging.Duration("duration", result.Duration))
	}

	if p.config.OnPipelineComplete != nil {
		p.config.OnPipelineComplete(*result)
	}
	return result
}

// executeStages threads records through every stage, stopping at the first error.
func (p *Pipe) executeStages(ctx context.Context, records []record.Record, result *Result, budget time.Duration) ([]record.Record, error) {
	for _, s := range p.stages {
		if flowctx.IsCanceled(ctx) {
			return records, p.interrupted(ctx, budget)
		}

		stageResult := p.executeStage(ctx, s, records)
		result.StageResults = append(result.StageResults, stageResult)
		if stageResult.Error != nil {
			return records, stageResult.Error
		}
		records = stageResult.Output
	}
	return records, nil
}

// executeStage executes a single stage.
func (p *Pipe) executeStage(ctx context.Context, s *stage.Prepared, input []record.Record) StageResult {
	startTime := time.Now()

	if p.config.OnStageStart != nil {
		p.config.OnStageStart(s.Name(), input)
	}

	output, err := s.Execute(ctx, input)

	endTime := time.Now()
	stageResult := StageResult{
		StageName: s.Name(),
		Input:     input,
		Output:    output,
		Error:     err,
		Duration:  endTime.Sub(startTime),
		StartTime: startTime,
		EndTime:   endTime,
	}

	p.updateStageStats(stageResult)

	if p.config.OnStageComplete != nil {
		p.config.OnStageComplete(stageResult)
	}

	return stageResult
}

func (p *Pipe) interrupted(ctx context.Context, budget time.Duration) error {
	if flowctx.IsTimedOut(ctx) {
		return flowctx.TimeoutError(ctx, flowctx.Budget{
			Scope:   gferrors.ScopePipe,
			Name:    p.config.Name,
			Timeout: budget,
		})
	}
	return &gferrors.ExecutionError{Kind: gferrors.ErrExecution, Message: "canceled", Cause: ctx.Err()}
}

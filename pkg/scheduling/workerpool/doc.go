/*
Package workerpool runs tasks on a fixed set of goroutines.

Stages use a shared pool to bound how many operations run at once across
every pipe that references it.

	pool, err := workerpool.NewWithConfig(workerpool.Config{
		Name:        "stages",
		WorkerCount: 4,
		QueueSize:   64,
	})
	if err != nil {
		return err
	}
	defer pool.Shutdown()

	results, err := pool.Submit(ctx, workerpool.TaskFunc(func(ctx context.Context) error {
		return nil
	}))
	if err != nil {
		return err
	}
	if r := <-results; r.Error != nil {
		log.Printf("task failed: %v", r.Error)
	}

Each Submit returns its own result channel, which receives exactly one
Result and is then closed. Panics inside a task are recovered and reported
as the task's error. Shutdown stops new submissions and lets queued tasks
finish.
*/
package workerpool

/*
Package scheduling groups the execution primitives pipes run on.

  - workerpool: fixed set of workers that stage operations and scheduled runs
    are dispatched to
  - scheduler: cron-driven triggering of whole pipes

Worker Pool:

	pool, err := workerpool.NewWithConfig(workerpool.Config{
		Name:        "stages",
		WorkerCount: 8,
		QueueSize:   64,
	})
	if err != nil {
		return err
	}
	defer func() { <-pool.Shutdown() }()

	err = pool.Run(ctx, workerpool.TaskFunc(func(ctx context.Context) error {
		return nil
	}))

Handing the pool to pipe.Config.WorkerPool runs every operation of a stage
on it instead of on fresh goroutines.

Scheduler:

	s := scheduler.New(scheduler.Config{Name: "nightly"})
	s.Add(scheduler.Job{ID: "rollup", Spec: "@daily", Pipe: p})
	s.Start()
	defer func() { <-s.Stop() }()

Both components honor context cancellation and are safe for concurrent use.
*/
package scheduling

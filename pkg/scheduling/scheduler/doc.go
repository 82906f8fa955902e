/*
Package scheduler runs pipes on cron schedules.

Expressions are parsed by robfig/cron with a leading seconds field, so
"0 30 9 * * MON-FRI" fires at 09:30:00 on weekdays. Descriptors such as
"@hourly" and "@every 5m" are accepted too.

	s := scheduler.New(scheduler.Config{Name: "nightly", Logger: logger})
	err := s.Add(scheduler.Job{
		ID:    "rollup",
		Spec:  "0 0 2 * * *",
		Pipe:  rollup,
		Input: func(at time.Time) map[string]interface{} {
			return map[string]interface{}{"day": at.Format("2006-01-02")}
		},
	})
	s.Start()
	defer func() { <-s.Stop() }()

Every run produces a Report handed to Config.OnReport. RunNow triggers a job
synchronously outside its schedule.

A WorkerPool set on the scheduler bounds concurrent runs. It must not be the
pool the scheduled pipes hand their stages to: a run occupying the last worker
would wait forever on its own stages.
*/
package scheduler

// Package janitor runs broker maintenance on a schedule.
//
// Backends opened with delayed checks never collect garbage on send; a
// janitor calls GarbageCollection for them instead:
//
//	j := janitor.New(janitor.WithLogger(log))
//	_ = j.AddJob("gc", janitor.Every(5*time.Minute), janitor.GarbageCollection(b))
//	_ = j.AddJob("analysis", janitor.HourlyAt(0), janitor.Analysis(b, log))
//	err := j.Start(ctx)
package janitor

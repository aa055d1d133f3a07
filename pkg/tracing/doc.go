// Package tracing records chain runs as job and step execution traces.
//
// A Tracer wraps every traced step of a chain run and the run itself. Each
// step gets a record with its timing, status, a comment and the id of the
// step that ran before it. Steps returning a promise are finalised when the
// promise completes, possibly after later steps, so the step list is
// rebuilt into execution order through the previous step ids.
//
// When the run ends, the job and its steps are saved once through a Store:
//
//	tracer, err := tracing.New("nightly-sync", store)
//	if err != nil {
//		return err
//	}
//	err = tail.Run(ctx, tracer.RunOptions()...)
//
// Each job and step also gets an OpenTelemetry span.
package tracing

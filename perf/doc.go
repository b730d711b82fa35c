// Package perf runs barrage test scripts from Go code.
//
// Scripts are the same YAML or JSON files the CLI runs:
//
//	script, err := perf.LoadScript("checkout.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := perf.RunTest(ctx, script)
//	fmt.Println(result.Aggregate.Counter("vusers.completed"))
//	os.Exit(result.Outcome.ExitCode())
//
// # Processors
//
// A script's config.processor names a set of handlers usable as hooks
// (beforeScenario, beforeRequest, ...) and as function steps. Register
// sets with WithProcessor:
//
//	pick := func(reg *perf.Registry) error {
//	    reg.Register("pickProduct", func(c *perf.HookCall) {
//	        c.Vars()["productId"] = rand.Intn(100)
//	        c.Done(nil)
//	    })
//	    return nil
//	}
//	result, err := perf.RunTest(ctx, script, perf.WithProcessor("shop", pick))
//
// A handler must call Done exactly once. It may do so later from another
// goroutine; the virtual user waits for it.
//
// # Reports
//
// Result.Aggregate is the cumulative report and Result.Intermediate holds
// one report per reporting interval. WriteReport stores both in the format
// read by the report command, which merges the files of several machines.
package perf

// Package bootstrap wires configuration, storage, detection, alert sinks and
// the HTTP API into a running vigil service and tears it down in order.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, configFile)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
package bootstrap

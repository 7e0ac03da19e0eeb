// Package bootstrap sequences web server startup and shutdown.
// It keeps the wiring out of main.go so every step can be tested.
//
// Usage:
//
//	app, err := bootstrap.NewApp(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start, wait for a termination signal, release the database
//	os.Exit(app.Run(ctx))
package bootstrap
